package cmd

import (
	"errors"

	"github.com/wethinkt/thinkt-browse/internal/client"
	"github.com/wethinkt/thinkt-browse/internal/config"
	"github.com/wethinkt/thinkt-browse/internal/transcript"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// Flags shared by view and tail.
var (
	serverURL   string
	serverToken string
	pageSize    int
)

var errNoServer = errors.New("no feed server: pass --server, set THINKT_BROWSE_SERVER, or start one with `thinkt-browse serve`")

// resolveServer picks the feed server URL: the flag, then the config file
// (including environment overrides), then a running local feed instance.
func resolveServer(flag string, c config.Config) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if c.Server.URL != "" {
		return c.Server.URL, nil
	}
	if inst := config.FindInstance(config.InstanceFeed); inst != nil {
		tuilog.Log.Info("Using local feed server", "pid", inst.PID, "port", inst.Port)
		return inst.URL(), nil
	}
	return "", errNoServer
}

// openSession builds a session view against the resolved feed server.
// history overrides the configured page size when positive.
func openSession(sessionID string, history int) (*transcript.SessionView, error) {
	base, err := resolveServer(serverURL, cfg)
	if err != nil {
		return nil, err
	}
	token := serverToken
	if token == "" {
		token = cfg.Server.Token
	}
	size := cfg.Sync.PageSize
	if history > 0 {
		size = history
	}

	return transcript.NewSessionView(transcript.Options{
		SessionID: sessionID,
		Fetcher:   client.NewHTTPFetcher(base, token),
		Channel: client.NewWSChannel(base, client.WSOptions{
			Token:       token,
			MaxFailures: cfg.Sync.MaxReconnectFailures,
		}),
		PageSize:       size,
		CoalesceWindow: cfg.Sync.CoalesceWindow(),
	})
}
