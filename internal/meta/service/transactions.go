package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/mailer"
	"github.com/infinitio/oracles/internal/meta/dto"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/notifier"
	"github.com/infinitio/oracles/internal/store"
)

func transactionPayload(tr *domain.Transaction) notification.Payload {
	p := notification.Payload{
		"transaction_id":     tr.ID.String(),
		"sender_id":          tr.SenderID.String(),
		"sender_fullname":    tr.SenderFullname,
		"sender_device_id":   tr.SenderDeviceID.String(),
		"recipient_id":       tr.RecipientID.String(),
		"recipient_fullname": tr.RecipientFullname,
		"files":              []string(tr.Files),
		"files_count":        tr.FilesCount,
		"total_size":         tr.TotalSize,
		"is_directory":       tr.IsDirectory,
		"message":            tr.Message,
		"status":             int(tr.Status),
		"ctime":              tr.Ctime.Unix(),
		"mtime":              tr.Mtime.Unix(),
	}
	if tr.RecipientDeviceID != nil {
		p["recipient_device_id"] = tr.RecipientDeviceID.String()
		p["recipient_device_name"] = tr.RecipientDeviceName
	}
	return p
}

// notifyTransaction pushes the transaction to the sender device and every
// recipient device.
func (s *Service) notifyTransaction(ctx context.Context, tr *domain.Transaction) {
	opts := notifier.Options{
		Devices: []notifier.Target{{UserID: tr.SenderID, DeviceID: tr.SenderDeviceID}},
		Users:   []domain.UserID{tr.RecipientID},
	}
	if tr.SenderID == tr.RecipientID {
		// Self-transfer: the user fan-out already covers the sender device.
		opts.Devices = nil
	}
	err := s.notifier.Notify(ctx, notification.PeerTransaction, transactionPayload(tr), opts)
	if err != nil {
		s.log.Warn("transaction fan-out failed", "transaction", tr.ID, "err", err)
	}
}

// resolveRecipient finds the target of a create by user id or email,
// provisioning a ghost for unknown addresses.
func (s *Service) resolveRecipient(ctx context.Context, identifier string) (*domain.User, bool, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		user, err := s.store.Users().GetByID(ctx, id)
		if err == store.ErrRecordNotFound {
			return nil, false, errcode.New(errcode.UnknownUser, identifier)
		}
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}
	if !validEmail(identifier) {
		return nil, false, errcode.New(errcode.EmailNotValid, identifier)
	}
	user, err := s.store.Users().GetByEmail(ctx, identifier)
	if err == nil {
		return user, false, nil
	}
	if err != store.ErrRecordNotFound {
		return nil, false, err
	}
	// Display name from the local part of the address.
	fullname := identifier
	if at := strings.Index(identifier, "@"); at > 0 {
		fullname = identifier[:at]
	}
	ghost := &domain.User{
		Email:          identifier,
		Fullname:       fullname,
		Handle:         identifier,
		RegisterStatus: domain.RegisterGhost,
	}
	if err := s.store.Users().Create(ctx, ghost); err != nil {
		return nil, false, err
	}
	return ghost, true, nil
}

func (s *Service) CreateTransaction(ctx context.Context, session *domain.Session, req dto.CreateTransactionRequest) (*dto.CreateTransactionResponse, error) {
	if len(req.Files) == 0 {
		return nil, errcode.New(errcode.FileNameEmpty, "no files")
	}
	for _, f := range req.Files {
		if f == "" {
			return nil, errcode.New(errcode.FileNameEmpty, "")
		}
	}
	sender, err := s.store.Users().GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Devices().Get(ctx, session.UserID, req.DeviceID); err != nil {
		if err == store.ErrRecordNotFound {
			return nil, errcode.New(errcode.DeviceDoesntBelongToYou, req.DeviceID.String())
		}
		return nil, err
	}

	recipient, isGhost, err := s.resolveRecipient(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}

	tr := &domain.Transaction{
		SenderID:          sender.ID,
		SenderFullname:    sender.Fullname,
		SenderDeviceID:    req.DeviceID,
		RecipientID:       recipient.ID,
		RecipientFullname: recipient.Fullname,
		Files:             domain.FilesJSON(req.Files),
		FilesCount:        req.FilesCount,
		TotalSize:         req.TotalSize,
		IsDirectory:       req.IsDirectory,
		Message:           req.Message,
		Status:            domain.StatusCreated,
		Strings: strings.ToLower(strings.Join(append([]string{
			sender.Fullname, sender.Email, recipient.Fullname, recipient.Email,
		}, req.Files...), " ")),
	}
	if err := s.store.Transactions().Create(ctx, tr); err != nil {
		return nil, err
	}

	count, err := s.store.Swaggers().Increment(ctx, sender.ID, recipient.ID)
	if err != nil {
		return nil, err
	}
	if count == 1 {
		s.notifyNewSwagger(ctx, sender, recipient)
	}

	s.notifyTransaction(ctx, tr)

	if isGhost {
		err := s.mailer.Send(ctx, mailer.TemplateInvitation,
			[]mailer.Recipient{{Email: recipient.Email, Fullname: recipient.Fullname}},
			map[string]any{
				"sender_fullname": sender.Fullname,
				"files":           req.Files,
				"total_size":      req.TotalSize,
				"message":         req.Message,
			})
		if err != nil {
			s.log.Warn("invitation mail failed", "email", recipient.Email, "err", err)
		}
	}

	return &dto.CreateTransactionResponse{
		CreatedTransactionID: tr.ID,
		RecipientIsGhost:     isGhost,
		Recipient:            s.userView(ctx, recipient),
	}, nil
}

func (s *Service) notifyNewSwagger(ctx context.Context, a, b *domain.User) {
	pairs := []struct {
		to      domain.UserID
		contact *domain.User
	}{
		{a.ID, b},
		{b.ID, a},
	}
	for _, p := range pairs {
		err := s.notifier.Notify(ctx, notification.NewSwagger, notification.Payload{
			"user_id": p.contact.ID.String(),
		}, notifier.Options{Users: []domain.UserID{p.to}})
		if err != nil {
			s.log.Warn("new swagger fan-out failed", "user", p.to, "err", err)
		}
	}
}

func (s *Service) GetTransaction(ctx context.Context, session *domain.Session, id domain.TransactionID) (*domain.Transaction, error) {
	tr, err := s.store.Transactions().Get(ctx, id)
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.TransactionDoesntExist, id.String())
	}
	if err != nil {
		return nil, err
	}
	if !tr.Involves(session.UserID) {
		return nil, errcode.New(errcode.TransactionDoesntBelongToYou, id.String())
	}
	return tr, nil
}

func (s *Service) ListTransactions(ctx context.Context, session *domain.Session, f store.ListFilter) ([]*domain.Transaction, error) {
	return s.store.Transactions().List(ctx, session.UserID, f)
}

const casAttempts = 3

func (s *Service) UpdateTransaction(ctx context.Context, session *domain.Session, req dto.UpdateTransactionRequest) (*dto.UpdateTransactionResponse, error) {
	next := domain.Status(req.Status)

	for attempt := 0; attempt < casAttempts; attempt++ {
		tr, err := s.GetTransaction(ctx, session, req.TransactionID)
		if err != nil {
			return nil, err
		}
		isSender := tr.IsSender(session.UserID)

		if tr.Status == next {
			// ACCEPTED twice from the recipient is idempotent.
			if next == domain.StatusAccepted && !isSender {
				return &dto.UpdateTransactionResponse{
					UpdatedTransactionID: tr.ID,
					Status:               int(tr.Status),
				}, nil
			}
			return nil, errcode.New(errcode.TransactionAlreadyHasThisStatus, tr.Status.String())
		}
		if tr.Status.Final() {
			return nil, errcode.New(errcode.TransactionAlreadyFinalized, tr.Status.String())
		}
		if !domain.CanTransition(tr.Status, next, isSender) {
			return nil, errcode.Newf(errcode.TransactionOperationNotPermitted,
				"%s -> %s", tr.Status, next)
		}

		extra := map[string]any{}
		if next == domain.StatusAccepted {
			if req.DeviceID == nil {
				return nil, errcode.New(errcode.DeviceIDNotValid, "accept requires a device")
			}
			device, err := s.store.Devices().Get(ctx, session.UserID, *req.DeviceID)
			if err == store.ErrRecordNotFound {
				return nil, errcode.New(errcode.DeviceDoesntBelongToYou, req.DeviceID.String())
			}
			if err != nil {
				return nil, err
			}
			if tr.SenderID == session.UserID && tr.SenderDeviceID == device.ID {
				return nil, errcode.New(errcode.TransactionCantBeAccepted, "sender device cannot accept")
			}
			name := req.DeviceName
			if name == "" {
				name = device.Name
			}
			extra["recipient_device_id"] = device.ID
			extra["recipient_device_name"] = name
		}

		won, err := s.store.Transactions().UpdateStatusCAS(ctx, tr.ID, tr.Status, next, extra)
		if err != nil {
			return nil, err
		}
		if !won {
			continue // someone else moved it, re-check against the new status
		}

		tr, err = s.store.Transactions().Get(ctx, tr.ID)
		if err != nil {
			return nil, err
		}
		s.notifyTransaction(ctx, tr)

		if next == domain.StatusGhostUploaded || next == domain.StatusFinished {
			s.sendGhostDownload(ctx, tr)
		}

		return &dto.UpdateTransactionResponse{
			UpdatedTransactionID: tr.ID,
			Status:               int(tr.Status),
		}, nil
	}
	return nil, errcode.New(errcode.TransactionOperationNotPermitted, "conflicting updates")
}

// sendGhostDownload mails the ghost recipient a signed URL to the buffered
// file once the sender finished uploading.
func (s *Service) sendGhostDownload(ctx context.Context, tr *domain.Transaction) {
	recipient, err := s.store.Users().GetByID(ctx, tr.RecipientID)
	if err != nil {
		s.log.Warn("ghost download mail failed", "transaction", tr.ID, "err", err)
		return
	}
	if recipient.RegisterStatus != domain.RegisterGhost {
		return
	}
	var url string
	if s.buffer != nil {
		url, err = s.buffer.DownloadURL(ctx, tr.ID, tr.DownloadName())
		if err != nil {
			s.log.Warn("ghost download presign failed", "transaction", tr.ID, "err", err)
			return
		}
	}
	err = s.mailer.Send(ctx, mailer.TemplateGhostDownload,
		[]mailer.Recipient{{Email: recipient.Email, Fullname: recipient.Fullname}},
		map[string]any{
			"sender_fullname": tr.SenderFullname,
			"download_url":    url,
			"file_name":       tr.DownloadName(),
			"total_size":      tr.TotalSize,
		})
	if err != nil {
		s.log.Warn("ghost download mail failed", "transaction", tr.ID, "err", err)
	}
}

func filterEndpoints(eps []domain.Endpoint) []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.IP == "0.0.0.0" || ep.IP == "" {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// UpdateEndpoints records one device's published endpoints and, once both
// sides are present, pushes PEER_CONNECTION_UPDATE to each of them.
func (s *Service) UpdateEndpoints(ctx context.Context, session *domain.Session, id domain.TransactionID, req dto.EndpointsRequest) error {
	tr, err := s.GetTransaction(ctx, session, id)
	if err != nil {
		return err
	}
	if _, err := s.store.Devices().Get(ctx, session.UserID, req.DeviceID); err != nil {
		if err == store.ErrRecordNotFound {
			return errcode.New(errcode.DeviceDoesntBelongToYou, req.DeviceID.String())
		}
		return err
	}
	senderSide := tr.SenderID == session.UserID && tr.SenderDeviceID == req.DeviceID
	recipientSide := tr.RecipientID == session.UserID &&
		tr.RecipientDeviceID != nil && *tr.RecipientDeviceID == req.DeviceID
	if !senderSide && !recipientSide {
		return errcode.New(errcode.DeviceNotValid, "device is not part of the transaction")
	}

	key := domain.NodeKey(session.UserID, req.DeviceID)
	nodes, err := s.store.Transactions().SetNode(ctx, id, key, &domain.Node{
		Locals:    filterEndpoints(req.Locals),
		Externals: filterEndpoints(req.Externals),
	})
	if err != nil {
		return err
	}

	if tr.RecipientDeviceID == nil {
		return nil
	}
	senderKey := domain.NodeKey(tr.SenderID, tr.SenderDeviceID)
	recipientKey := domain.NodeKey(tr.RecipientID, *tr.RecipientDeviceID)
	if nodes[senderKey] == nil || nodes[recipientKey] == nil {
		return nil
	}

	// Both sides are in: each gets the other's endpoints.
	s.notifyConnectionUpdate(ctx, tr, tr.SenderID, tr.SenderDeviceID, tr.RecipientID, *tr.RecipientDeviceID, nodes[recipientKey], true)
	s.notifyConnectionUpdate(ctx, tr, tr.RecipientID, *tr.RecipientDeviceID, tr.SenderID, tr.SenderDeviceID, nodes[senderKey], true)
	return nil
}

// PeerEndpoints reads back the endpoints the peer device published,
// formatted as "ip:port" strings. Both sides must have published.
func (s *Service) PeerEndpoints(ctx context.Context, session *domain.Session, id domain.TransactionID, selfDevice, peerDevice domain.DeviceID) (*dto.PeerEndpointsResponse, error) {
	tr, err := s.GetTransaction(ctx, session, id)
	if err != nil {
		return nil, err
	}
	var selfKey, peerKey string
	if tr.IsSender(session.UserID) {
		selfKey = domain.NodeKey(tr.SenderID, selfDevice)
		peerKey = domain.NodeKey(tr.RecipientID, peerDevice)
	} else {
		selfKey = domain.NodeKey(tr.RecipientID, selfDevice)
		peerKey = domain.NodeKey(tr.SenderID, peerDevice)
	}
	nodes := tr.Nodes.Data()
	if nodes[selfKey] == nil {
		return nil, errcode.New(errcode.DeviceNotFound, "you are not connected to this transaction")
	}
	peerNode := nodes[peerKey]
	if peerNode == nil {
		return nil, errcode.New(errcode.DeviceNotFound, "this user is not connected to this transaction")
	}
	format := func(eps []domain.Endpoint) []string {
		out := make([]string, 0, len(eps))
		for _, ep := range eps {
			if ep.IP == "" || ep.Port == 0 {
				continue
			}
			out = append(out, fmt.Sprintf("%s:%d", ep.IP, ep.Port))
		}
		return out
	}
	return &dto.PeerEndpointsResponse{
		Locals:    format(peerNode.Locals),
		Externals: format(peerNode.Externals),
	}, nil
}

func (s *Service) notifyConnectionUpdate(ctx context.Context, tr *domain.Transaction,
	toUser domain.UserID, toDevice domain.DeviceID,
	peerUser domain.UserID, peerDevice domain.DeviceID,
	peerNode *domain.Node, status bool) {

	payload := notification.Payload{
		"transaction_id": tr.ID.String(),
		"peer_id":        peerUser.String(),
		"peer_device_id": peerDevice.String(),
		"status":         status,
	}
	if peerNode != nil {
		payload["peer_endpoints"] = map[string]any{
			"locals":    peerNode.Locals,
			"externals": peerNode.Externals,
		}
	}
	err := s.notifier.Notify(ctx, notification.PeerConnectionUpdate, payload,
		notifier.Options{Devices: []notifier.Target{{UserID: toUser, DeviceID: toDevice}}})
	if err != nil {
		s.log.Warn("connection update fan-out failed", "transaction", tr.ID, "err", err)
	}
}

// CloudBuffer hands out presigned credentials on the buffer bucket, PUT for
// the sender, GET for the recipient.
func (s *Service) CloudBuffer(ctx context.Context, session *domain.Session, id domain.TransactionID) (*dto.CloudBufferResponse, error) {
	tr, err := s.GetTransaction(ctx, session, id)
	if err != nil {
		return nil, err
	}
	if tr.Status.Final() {
		return nil, errcode.New(errcode.TransactionAlreadyFinalized, tr.Status.String())
	}
	if s.buffer == nil {
		return nil, errcode.New(errcode.UnableToGetCredentials, "no cloud buffer configured")
	}
	urls := make([]string, 0, len(tr.Files))
	for _, f := range tr.Files {
		var url string
		var err error
		if tr.IsSender(session.UserID) {
			url, err = s.buffer.UploadURL(ctx, tr.ID, f)
		} else {
			url, err = s.buffer.DownloadURL(ctx, tr.ID, f)
		}
		if err != nil {
			return nil, errcode.New(errcode.UnableToGetCredentials, err.Error())
		}
		urls = append(urls, url)
	}
	return &dto.CloudBufferResponse{Protocol: "aws", URLs: urls}, nil
}
