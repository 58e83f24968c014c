package dto

type TrophoniusHeartbeat struct {
	Hostname      string `json:"hostname"`
	IP            string `json:"ip,omitempty"`
	PortClient    int    `json:"port_client"`
	PortClientSSL int    `json:"port_client_ssl"`
	Port          int    `json:"port"` // control port
	Users         int    `json:"users"`
	Version       string `json:"version,omitempty"`
	Zone          string `json:"zone,omitempty"`
	ShuttingDown  bool   `json:"shutting_down"`
}

type ApertusHeartbeat struct {
	Host    string `json:"host"`
	PortTCP int    `json:"port_tcp"`
	PortSSL int    `json:"port_ssl"`
}

type ApertusBandwidth struct {
	Bandwidth         float64 `json:"bandwidth"`
	NumberOfTransfers int     `json:"number_of_transfers"`
}

type FallbackResponse struct {
	FallbackHost    string `json:"fallback_host"`
	FallbackPortTCP int    `json:"fallback_port_tcp"`
	FallbackPortSSL int    `json:"fallback_port_ssl"`
}
