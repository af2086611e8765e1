package rcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"rcp-ptz/internal/ptz"
)

// RCP+ request constants for the BiCom PTZ write command
const (
	endpointPath  = "/rcp.xml"
	moveCommand   = "0x09A5"
	moveType      = "P_OCTET"
	moveDirection = "WRITE"
	moveNum       = "1"
)

// Auth schemes accepted by Config.Auth
const (
	AuthBasic  = "basic"
	AuthDigest = "digest"
)

// DefaultTimeout bounds one request to the camera
const DefaultTimeout = time.Second

// Config for an RCP+ client
type Config struct {
	Name     string        // Camera id, used in logs
	URL      string        // Camera base URL (e.g., "http://192.168.1.100")
	Username string        // Optional, requires Password
	Password string        // Optional, requires Username
	Auth     string        // "basic" (default) or "digest"
	Timeout  time.Duration // Defaults to DefaultTimeout
}

// Client sends PTZ moves to a Bosch camera over RCP+ (HTTP CGI)
type Client struct {
	name string
	http *resty.Client
	log  *log.Entry
}

var _ ptz.Controller = (*Client)(nil)

// NewClient creates a new RCP+ client
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("camera url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid camera url %q", cfg.URL)
	}
	if (cfg.Username == "") != (cfg.Password == "") {
		return nil, fmt.Errorf("username and password must be specified or none of them")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Name == "" {
		cfg.Name = u.Host
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout)

	switch cfg.Auth {
	case "", AuthBasic:
		if cfg.Username != "" {
			r.SetBasicAuth(cfg.Username, cfg.Password)
		}
	case AuthDigest:
		if cfg.Username == "" {
			return nil, fmt.Errorf("digest auth requires username and password")
		}
		r.SetTransport(newDigestTransport(cfg.Username, cfg.Password))
	default:
		return nil, fmt.Errorf("unsupported auth scheme: %s", cfg.Auth)
	}

	c := &Client{
		name: cfg.Name,
		http: r,
		log:  log.WithField("camera", cfg.Name),
	}
	c.log.Infof("Initialized at %s", r.BaseURL)
	return c, nil
}

// Close releases idle connections to the camera
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	c.log.Info("Stopped")
	return nil
}

// Move sends cmd to the camera.
// Invalid commands fail with a validation error before any network call.
func (c *Client) Move(ctx context.Context, cmd ptz.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	c.log.Infof("Moving: %s", cmd)
	payload := ptz.Encode(cmd)

	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParams(map[string]string{
			"command":   moveCommand,
			"type":      moveType,
			"direction": moveDirection,
			"num":       moveNum,
			"payload":   payload,
		}).
		Get(endpointPath)
	if err != nil {
		c.log.Warnf("Move request failed: %v", err)
		return ptz.Transport(err)
	}
	body := resp.RawBody()
	defer body.Close()

	status := resp.StatusCode()
	if status == http.StatusOK {
		return nil
	}

	// Best effort: an unreadable body still yields a classified error
	text, err := io.ReadAll(body)
	if err != nil {
		text = nil
	}
	if perr := Classify(status, string(text)); perr != nil {
		c.log.Warnf("Camera rejected move: %s", perr.Message)
		return perr
	}
	return nil
}
