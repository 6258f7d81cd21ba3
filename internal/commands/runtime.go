package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quitline/carechat/internal/api"
	"github.com/quitline/carechat/internal/chat"
	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/core/config"
	"github.com/quitline/carechat/internal/transport"
	"github.com/quitline/carechat/internal/transport/natslink"
	"github.com/quitline/carechat/internal/transport/signalr"
)

// runtime is a logged-in account with its REST client and chat session.
type runtime struct {
	account account.Session
	api     *api.Client
	chat    *chat.Session
}

// loadAccount returns the stored session or an error pointing at login.
func (f *Flags) loadAccount(ctx context.Context) (account.Session, error) {
	acct, err := f.Accounts.Load(ctx)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.Session{}, fmt.Errorf("%w: run 'carechat login' first", err)
		}
		return account.Session{}, fmt.Errorf("load session: %w", err)
	}
	return acct, nil
}

func (f *Flags) newAPI(acct account.Session) (*api.Client, error) {
	return api.New(f.Config.Server.BaseURL, acct.Token, f.Config.Server.Timeout, log.Logger)
}

// newDialer selects the push transport configured for the account.
func newDialer(cfg *config.Config, acct account.Session) transport.Dialer {
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		return natslink.NewDialer(natslink.Config{
			URL:           cfg.Transport.NATSURL,
			SubjectPrefix: cfg.Transport.SubjectPrefix,
			SelfID:        acct.SelfID,
			Timeout:       cfg.Server.Timeout,
		}, log.Logger)
	default:
		return signalr.NewDialer(cfg.Server.HubURL, log.Logger).
			WithKeepAlive(cfg.Transport.KeepAlive, cfg.Transport.ServerTimeout)
	}
}

func (f *Flags) newChat(acct account.Session, client *api.Client) *chat.Session {
	link := transport.NewLink(newDialer(f.Config, acct), transport.Options{
		InitialBackoff: f.Config.Transport.Reconnect.Initial,
		MaxBackoff:     f.Config.Transport.Reconnect.Max,
	}, log.Logger)

	return chat.New(chat.Deps{
		Link:      link,
		Directory: client,
		History:   client,
		Sender:    client,
	}, chat.Options{
		DedupWindow: f.Config.Conversation.DedupWindow,
		EchoTTL:     f.Config.Conversation.EchoTTL,
	}, log.Logger)
}

// startRuntime loads the stored account and starts a connected chat
// session. The caller must End the session.
func (f *Flags) startRuntime(ctx context.Context) (*runtime, error) {
	acct, err := f.loadAccount(ctx)
	if err != nil {
		return nil, err
	}

	client, err := f.newAPI(acct)
	if err != nil {
		return nil, err
	}

	s := f.newChat(acct, client)
	if err := s.Start(ctx, acct); err != nil {
		_ = s.End()
		if errors.Is(err, chat.ErrAuthRejected) {
			return nil, fmt.Errorf("%w: run 'carechat login' again", err)
		}
		return nil, fmt.Errorf("start chat: %w", err)
	}

	return &runtime{account: acct, api: client, chat: s}, nil
}
