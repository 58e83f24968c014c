package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/mailer"
	"github.com/infinitio/oracles/internal/meta/dto"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/notifier"
	"github.com/infinitio/oracles/internal/store"
)

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

func validHandle(handle string) bool {
	return len(handle) >= 3 && len(handle) <= 30
}

// Login authenticates and opens a device session. The device record is
// created on first login from a given id.
func (s *Service) Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error) {
	if !validEmail(req.Email) {
		return nil, errcode.New(errcode.EmailNotValid, req.Email)
	}
	if req.Password == "" {
		return nil, errcode.New(errcode.PasswordNotValid, "empty password")
	}

	user, err := s.store.Users().GetByEmail(ctx, req.Email)
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.EmailPasswordDontMatch, "")
	}
	if err != nil {
		return nil, err
	}
	// Ghosts have no password yet.
	if user.RegisterStatus != domain.RegisterOK ||
		!s.pass.Verify(req.Password, user.PasswordHash, user.PasswordSalt, user.PasswordParams) {
		return nil, errcode.New(errcode.EmailPasswordDontMatch, "")
	}

	deviceID := uuid.New()
	if req.DeviceID != nil {
		deviceID = *req.DeviceID
	}
	name := req.DeviceName
	if name == "" {
		name = "device"
	}
	device := &domain.Device{
		ID:        deviceID,
		Owner:     user.ID,
		Name:      name,
		OS:        req.OS,
		Version:   req.Version,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.Devices().Upsert(ctx, device); err != nil {
		return nil, err
	}
	device, err = s.store.Devices().Get(ctx, user.ID, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Passport == "" {
		passport, err := s.signPassport(user.ID, deviceID)
		if err != nil {
			return nil, err
		}
		device.Passport = passport
		updates := map[string]any{"passport": passport}
		if req.PushToken != nil {
			updates["push_token"] = *req.PushToken
		}
		if err := s.store.Devices().Update(ctx, user.ID, deviceID, updates); err != nil {
			return nil, err
		}
	} else if req.PushToken != nil {
		if err := s.store.Devices().Update(ctx, user.ID, deviceID, map[string]any{"push_token": *req.PushToken}); err != nil {
			return nil, err
		}
	}

	// A device never holds two sessions; drop the previous one first.
	if err := s.store.Sessions().DeleteForDevice(ctx, user.ID, deviceID); err != nil {
		return nil, err
	}
	session := &domain.Session{
		UserID:    user.ID,
		DeviceID:  &deviceID,
		Email:     user.Email,
		ExpiresAt: time.Now().UTC().Add(s.cfg.SessionTTL),
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return nil, err
	}
	if err := s.store.Users().SetOnline(ctx, user.ID, true); err != nil {
		return nil, err
	}

	pending, err := s.store.Users().TakePendingNotifications(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	resp := &dto.LoginResponse{
		SessionID:            session.ID,
		Self:                 s.selfView(ctx, user),
		PendingNotifications: pending,
		Device: &dto.DeviceView{
			ID:       device.ID,
			Name:     device.Name,
			Passport: device.Passport,
			OS:       device.OS,
			Version:  device.Version,
		},
	}
	if req.PickTrophonius {
		rec, err := s.store.Trophonius().Pick(ctx, "", s.cfg.TrophoniusTTL)
		if err == nil {
			resp.Trophonius = &dto.TrophoniusView{
				Hostname: rec.Hostname,
				Port:     rec.PortClient,
				PortSSL:  rec.PortClientSSL,
			}
		}
	}
	return resp, nil
}

// WebLogin opens a session without a device, for the website.
func (s *Service) WebLogin(ctx context.Context, req dto.WebLoginRequest) (*domain.Session, error) {
	if !validEmail(req.Email) {
		return nil, errcode.New(errcode.EmailNotValid, req.Email)
	}
	user, err := s.store.Users().GetByEmail(ctx, req.Email)
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.EmailPasswordDontMatch, "")
	}
	if err != nil {
		return nil, err
	}
	if user.RegisterStatus != domain.RegisterOK ||
		!s.pass.Verify(req.Password, user.PasswordHash, user.PasswordSalt, user.PasswordParams) {
		return nil, errcode.New(errcode.EmailPasswordDontMatch, "")
	}
	session := &domain.Session{
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: time.Now().UTC().Add(s.cfg.SessionTTL),
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Logout closes the session and, when it carried a device, marks the user
// offline if that was the last connected device.
func (s *Service) Logout(ctx context.Context, session *domain.Session) error {
	if err := s.store.Sessions().Delete(ctx, session.ID); err != nil {
		return err
	}
	online, err := s.store.Devices().OnlineForUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	if len(online) == 0 {
		return s.store.Users().SetOnline(ctx, session.UserID, false)
	}
	return nil
}

// Register creates an account, or completes a ghost keeping its id,
// swaggers and pending notifications.
func (s *Service) Register(ctx context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error) {
	if !validEmail(req.Email) {
		return nil, errcode.New(errcode.EmailNotValid, req.Email)
	}
	if req.Fullname == "" {
		return nil, errcode.New(errcode.FullnameNotValid, "empty fullname")
	}
	if req.Handle == "" {
		req.Handle = req.Email
	}
	if !validHandle(req.Handle) {
		return nil, errcode.New(errcode.HandleNotValid, req.Handle)
	}
	if len(req.Password) < 4 {
		return nil, errcode.New(errcode.PasswordNotValid, "too short")
	}

	hash, salt, params, err := s.pass.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	if other, err := s.store.Users().GetByHandle(ctx, req.Handle); err == nil && strings.ToLower(other.Email) != strings.ToLower(req.Email) {
		return nil, errcode.New(errcode.HandleAlreadyRegistered, req.Handle)
	}

	existing, err := s.store.Users().GetByEmail(ctx, req.Email)
	switch {
	case err == store.ErrRecordNotFound:
		user := &domain.User{
			Email:          req.Email,
			Fullname:       req.Fullname,
			Handle:         req.Handle,
			RegisterStatus: domain.RegisterOK,
			PasswordHash:   hash,
			PasswordSalt:   salt,
			PasswordParams: params,
			PublicKey:      req.PublicKey,
			Identity:       req.Identity,
		}
		if err := s.store.Users().Create(ctx, user); err != nil {
			return nil, err
		}
		s.sendWelcome(ctx, user)
		return &dto.RegisterResponse{RegisteredUserID: user.ID}, nil

	case err != nil:
		return nil, err

	case existing.RegisterStatus == domain.RegisterOK:
		return nil, errcode.New(errcode.EmailAlreadyRegistered, req.Email)

	default:
		// Ghost promotion: same row, same id.
		err := s.store.Users().Promote(ctx, existing.ID, map[string]any{
			"fullname":        req.Fullname,
			"handle":          req.Handle,
			"lw_handle":       strings.ToLower(req.Handle),
			"password_hash":   hash,
			"password_salt":   salt,
			"password_params": params,
			"public_key":      req.PublicKey,
			"identity":        req.Identity,
		})
		if err != nil {
			return nil, err
		}
		s.notifySwaggersJoined(ctx, existing.ID, req.Fullname, existing.Email)
		s.sendWelcome(ctx, &domain.User{Email: existing.Email, Fullname: req.Fullname})
		return &dto.RegisterResponse{RegisteredUserID: existing.ID}, nil
	}
}

func (s *Service) sendWelcome(ctx context.Context, user *domain.User) {
	err := s.mailer.Send(ctx, mailer.TemplateWelcome,
		[]mailer.Recipient{{Email: user.Email, Fullname: user.Fullname}},
		map[string]any{"fullname": user.Fullname})
	if err != nil {
		s.log.Warn("welcome mail failed", "email", user.Email, "err", err)
	}
}

// notifySwaggersJoined tells everyone who ever exchanged with this address
// that their contact is now a real account.
func (s *Service) notifySwaggersJoined(ctx context.Context, userID domain.UserID, fullname, email string) {
	peers, err := s.store.Swaggers().PeerIDs(ctx, userID)
	if err != nil {
		s.log.Warn("swagger fan-out failed", "user", userID, "err", err)
		return
	}
	if len(peers) == 0 {
		return
	}
	err = s.notifier.Notify(ctx, notification.NewSwagger, notification.Payload{
		"user_id":          userID.String(),
		"contact_fullname": fullname,
		"contact_email":    email,
	}, notifier.Options{Users: peers})
	if err != nil {
		s.log.Warn("swagger fan-out failed", "user", userID, "err", err)
	}
}

// ResolveSession loads and validates the session named by a cookie. Expired
// sessions read as not logged in.
func (s *Service) ResolveSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	session, err := s.store.Sessions().Get(ctx, id)
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.NotLoggedIn, "")
	}
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now().UTC()) {
		_ = s.store.Sessions().Delete(ctx, session.ID)
		return nil, errcode.New(errcode.NotLoggedIn, "session expired")
	}
	return session, nil
}

const resetTokenTTL = 2 * time.Hour

// LostPassword mails a signed, time-limited reset link.
func (s *Service) LostPassword(ctx context.Context, email string) error {
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err == store.ErrRecordNotFound {
		return errcode.New(errcode.UnknownEmailAddress, email)
	}
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(resetTokenTTL).Unix(),
	})
	hash, err := token.SignedString(s.cfg.SigningKey)
	if err != nil {
		return err
	}
	err = s.mailer.Send(ctx, mailer.TemplateLostPassword,
		[]mailer.Recipient{{Email: user.Email, Fullname: user.Fullname}},
		map[string]any{"reset_hash": hash})
	if err != nil {
		return fmt.Errorf("lost password mail: %w", err)
	}
	return nil
}

// ResetAccountEmail validates a reset hash and returns the email it is for.
func (s *Service) ResetAccountEmail(ctx context.Context, hash string) (string, error) {
	token, err := jwt.Parse(hash, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.SigningKey, nil
	})
	if err != nil || !token.Valid {
		return "", errcode.New(errcode.UnknownEmailHash, "")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errcode.New(errcode.UnknownEmailHash, "")
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return "", errcode.New(errcode.UnknownEmailHash, "")
	}
	return email, nil
}

// ResetAccount sets a new password and drops every session of the account.
func (s *Service) ResetAccount(ctx context.Context, hash, password string) error {
	email, err := s.ResetAccountEmail(ctx, hash)
	if err != nil {
		return err
	}
	if len(password) < 4 {
		return errcode.New(errcode.PasswordNotValid, "too short")
	}
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err == store.ErrRecordNotFound {
		return errcode.New(errcode.UnknownEmailAddress, email)
	}
	if err != nil {
		return err
	}
	phash, salt, params, err := s.pass.Hash(password)
	if err != nil {
		return err
	}
	err = s.store.Users().Update(ctx, user.ID, map[string]any{
		"password_hash":   phash,
		"password_salt":   salt,
		"password_params": params,
	})
	if err != nil {
		return err
	}
	if _, err := s.store.Sessions().DeleteForUser(ctx, user.ID); err != nil {
		return err
	}
	return nil
}

func (s *Service) signPassport(owner domain.UserID, device domain.DeviceID) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"device_id": device.String(),
		"owner":     owner.String(),
		"iat":       time.Now().UTC().Unix(),
	})
	return token.SignedString(s.cfg.SigningKey)
}
