package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/meta/dto"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/notifier"
	"github.com/infinitio/oracles/internal/store"
)

func (s *Service) userView(ctx context.Context, user *domain.User) dto.UserView {
	var connected []domain.DeviceID
	if online, err := s.store.Devices().OnlineForUser(ctx, user.ID); err == nil {
		for _, d := range online {
			connected = append(connected, d.ID)
		}
	}
	return dto.UserView{
		ID:               user.ID,
		Fullname:         user.Fullname,
		Handle:           user.Handle,
		PublicKey:        user.PublicKey,
		RegisterStatus:   string(user.RegisterStatus),
		ConnectedDevices: connected,
		Status:           len(connected) > 0,
	}
}

func (s *Service) selfView(ctx context.Context, user *domain.User) dto.SelfView {
	var deviceIDs []domain.DeviceID
	if devices, err := s.store.Devices().ListForUser(ctx, user.ID); err == nil {
		for _, d := range devices {
			deviceIDs = append(deviceIDs, d.ID)
		}
	}
	favorites := []string(user.Favorites)
	if favorites == nil {
		favorites = []string{}
	}
	return dto.SelfView{
		UserView:  s.userView(ctx, user),
		Email:     user.Email,
		Identity:  user.Identity,
		Devices:   deviceIDs,
		Favorites: favorites,
	}
}

func (s *Service) Self(ctx context.Context, session *domain.Session) (*dto.SelfView, error) {
	user, err := s.store.Users().GetByID(ctx, session.UserID)
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.UnknownUser, "")
	}
	if err != nil {
		return nil, err
	}
	view := s.selfView(ctx, user)
	return &view, nil
}

// UserViewByIdentifier resolves a user by id or email and returns the
// public view.
func (s *Service) UserViewByIdentifier(ctx context.Context, identifier string) (*dto.UserView, error) {
	var user *domain.User
	var err error
	if id, perr := uuid.Parse(identifier); perr == nil {
		user, err = s.store.Users().GetByID(ctx, id)
	} else if validEmail(identifier) {
		user, err = s.store.Users().GetByEmail(ctx, identifier)
	} else {
		user, err = s.store.Users().GetByHandle(ctx, identifier)
	}
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.UnknownUser, identifier)
	}
	if err != nil {
		return nil, err
	}
	view := s.userView(ctx, user)
	return &view, nil
}

func (s *Service) SearchUsers(ctx context.Context, q string, limit, skip int) ([]dto.UserView, error) {
	users, err := s.store.Users().Search(ctx, q, limit, skip)
	if err != nil {
		return nil, err
	}
	views := make([]dto.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, s.userView(ctx, u))
	}
	return views, nil
}

func (s *Service) Swaggers(ctx context.Context, session *domain.Session) ([]dto.SwaggerView, error) {
	rows, err := s.store.Swaggers().ListForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]dto.SwaggerView, 0, len(rows))
	for _, r := range rows {
		views = append(views, dto.SwaggerView{ID: r.PeerID, Count: r.Count})
	}
	return views, nil
}

func (s *Service) Favorite(ctx context.Context, session *domain.Session, peer domain.UserID) error {
	user, err := s.store.Users().GetByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	target := peer.String()
	for _, f := range user.Favorites {
		if f == target {
			return nil
		}
	}
	favorites := append([]string(user.Favorites), target)
	return s.store.Users().Update(ctx, user.ID, map[string]any{"favorites": domain.FavoritesJSON(favorites)})
}

func (s *Service) Unfavorite(ctx context.Context, session *domain.Session, peer domain.UserID) error {
	user, err := s.store.Users().GetByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	target := peer.String()
	favorites := make([]string, 0, len(user.Favorites))
	for _, f := range user.Favorites {
		if f != target {
			favorites = append(favorites, f)
		}
	}
	return s.store.Users().Update(ctx, user.ID, map[string]any{"favorites": domain.FavoritesJSON(favorites)})
}

func (s *Service) EditUser(ctx context.Context, session *domain.Session, req dto.EditUserRequest) error {
	if req.Fullname == "" {
		return errcode.New(errcode.FullnameNotValid, "empty fullname")
	}
	if !validHandle(req.Handle) {
		return errcode.New(errcode.HandleNotValid, req.Handle)
	}
	if other, err := s.store.Users().GetByHandle(ctx, req.Handle); err == nil && other.ID != session.UserID {
		return errcode.New(errcode.HandleAlreadyRegistered, req.Handle)
	}
	return s.store.Users().Update(ctx, session.UserID, map[string]any{
		"fullname":  req.Fullname,
		"handle":    req.Handle,
		"lw_handle": strings.ToLower(req.Handle),
	})
}

func (s *Service) Avatar(ctx context.Context, userID domain.UserID) ([]byte, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.UnknownUser, userID.String())
	}
	if err != nil {
		return nil, err
	}
	return user.Avatar, nil
}

func (s *Service) SetAvatar(ctx context.Context, session *domain.Session, avatar []byte) error {
	return s.store.Users().SetAvatar(ctx, session.UserID, avatar)
}

// Genocide broadcasts SUICIDE to every connected user, an operator tool to
// force the whole fleet of clients to restart.
func (s *Service) Genocide(ctx context.Context) (int, error) {
	ids, err := s.store.Users().ConnectedIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err = s.notifier.Notify(ctx, notification.Suicide, notification.Payload{},
		notifier.Options{Users: ids})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
