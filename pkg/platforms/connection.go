package platforms

import (
	"context"
	"errors"
	"time"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
)

// Messages returned to the caller of a connection test.
const (
	MsgConnectionTimeout = "Connection timeout"
	MsgMissingCredential = "Missing URL or API token"
	MsgPlatformNotFound  = "Platform not found"
	MsgNoPlatforms       = "No platform configured"
)

// ConnectionTestRequest selects what to test. With URL or APIToken set the
// credentials are tested as given and nothing is stored. Otherwise the
// saved platform PlatformID (or the default one) is tested.
type ConnectionTestRequest struct {
	PlatformID         string `json:"platform_id,omitempty"`
	Type               string `json:"type,omitempty"`
	URL                string `json:"url,omitempty"`
	APIToken           string `json:"api_token,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

func (r ConnectionTestRequest) temporary() bool {
	return r.URL != "" || r.APIToken != ""
}

type ConnectionTestResponse struct {
	Success    bool          `json:"success"`
	PlatformID string        `json:"platform_id,omitempty"`
	Info       *PlatformInfo `json:"info,omitempty"`
	Error      string        `json:"error,omitempty"`
	Timeout    bool          `json:"timeout,omitempty"`
}

// connInfo carries a connection test result through callWithTimeout.
type connInfo struct{ *PlatformInfo }

func (connInfo) DedupKey() string     { return "" }
func (connInfo) StampPlatform(string) {}

// ClientFactory builds a client from a platform configuration.
type ClientFactory func(cfg config.PlatformConfig) (Client, error)

// ConnectionDeps carries what a connection test needs from its caller.
type ConnectionDeps struct {
	// Clients holds already constructed clients, reused in saved mode.
	Clients *ClientMap
	// Settings returns the saved configuration of a platform.
	Settings  func(platformID string) (config.PlatformConfig, bool)
	NewClient ClientFactory
	Timeout   time.Duration
}

// TestPlatformConnection tests either the credentials in req or a saved
// platform. Configuration problems are reported without any network call;
// a timeout is reported as MsgConnectionTimeout.
func TestPlatformConnection(ctx context.Context, req ConnectionTestRequest, deps ConnectionDeps) (resp ConnectionTestResponse) {
	log := logger.FromContext(ctx).WithComponent("connection-test")
	ctx, span := log.StartOperation(ctx, "platforms.test_connection", "temporary", req.temporary())
	start := time.Now()
	defer func() {
		var err error
		if !resp.Success {
			err = errors.New(resp.Error)
		}
		log.FinishOperation(ctx, span, "platforms.test_connection", start, err,
			"platform_id", resp.PlatformID,
			"timeout", resp.Timeout,
		)
	}()

	var (
		platformID string
		client     Client
	)

	if req.temporary() {
		if req.URL == "" || req.APIToken == "" {
			return ConnectionTestResponse{PlatformID: req.PlatformID, Error: MsgMissingCredential}
		}
		platformType := req.Type
		if platformType == "" {
			platformType = config.PlatformTypeOpenCTI
		}
		platformID = req.PlatformID
		if platformID == "" {
			platformID = "temporary"
		}

		if deps.NewClient == nil {
			return ConnectionTestResponse{PlatformID: platformID, Error: "no client factory"}
		}
		c, err := deps.NewClient(config.PlatformConfig{
			ID:                 platformID,
			Name:               platformID,
			Type:               platformType,
			URL:                req.URL,
			APIToken:           req.APIToken,
			Enabled:            true,
			InsecureSkipVerify: req.InsecureSkipVerify,
		})
		if err != nil {
			return ConnectionTestResponse{PlatformID: platformID, Error: err.Error()}
		}
		client = c
	} else {
		id, c, errMsg := savedClient(req.PlatformID, deps)
		if errMsg != "" {
			return ConnectionTestResponse{PlatformID: id, Error: errMsg}
		}
		platformID, client = id, c
	}

	fetch := func(ctx context.Context, c Client) ([]connInfo, error) {
		info, err := c.TestConnection(ctx)
		if err != nil {
			return nil, err
		}
		return []connInfo{{info}}, nil
	}

	r, timedOut := callWithTimeout(ctx, client, platformID, fetch, deps.Timeout, "connection_test")
	if timedOut {
		return ConnectionTestResponse{PlatformID: platformID, Error: MsgConnectionTimeout, Timeout: true}
	}
	if !r.Success {
		return ConnectionTestResponse{PlatformID: platformID, Error: r.Error}
	}

	var info *PlatformInfo
	if len(r.Data) > 0 {
		info = r.Data[0].PlatformInfo
	}
	log.Infow("Connection test succeeded", "platform_id", platformID)
	return ConnectionTestResponse{Success: true, PlatformID: platformID, Info: info}
}

// savedClient resolves a configured platform, preferring the live client.
func savedClient(platformID string, deps ConnectionDeps) (string, Client, string) {
	if platformID == "" && deps.Clients != nil {
		if id, c, ok := deps.Clients.First(); ok {
			return id, c, ""
		}
	}
	if platformID == "" {
		return "", nil, MsgNoPlatforms
	}

	if deps.Clients != nil {
		if c, ok := deps.Clients.Get(platformID); ok {
			return platformID, c, ""
		}
	}

	if deps.Settings == nil {
		return platformID, nil, MsgPlatformNotFound
	}
	cfg, ok := deps.Settings(platformID)
	if !ok {
		return platformID, nil, MsgPlatformNotFound
	}
	if cfg.URL == "" || cfg.APIToken == "" {
		return platformID, nil, MsgMissingCredential
	}

	if deps.NewClient == nil {
		return platformID, nil, "no client factory"
	}
	c, err := deps.NewClient(cfg)
	if err != nil {
		return platformID, nil, err.Error()
	}
	return platformID, c, ""
}
