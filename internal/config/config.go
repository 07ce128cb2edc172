package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CLASSMESH_LISTEN_ADDR.
const EnvPrefix = "CLASSMESH"

// Default configuration values
const (
	DefaultListenAddr          = ":8080"
	DefaultServer              = "localhost:8080"
	DefaultSTUN                = "stun:stun.l.google.com:19302"
	DefaultSendBuffer          = 256
	DefaultPresenceBacklogWarn = 1024
	DefaultDotEnv              = ".env"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// ICE holds the STUN/TURN servers handed to WebRTC peers.
type ICE struct {
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts candidates to TURN relays.
	ForceRelay bool
}

// STUNServers returns STUN server URLs as strings
func (c ICE) STUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// TURNServers expands a bare TURN host into its udp, tcp and tls URLs. Full
// URLs carrying a port or query are used as given.
func (c ICE) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	if strings.ContainsAny(host, ":?") {
		return []string{c.TURNServer}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// TURNCredentials returns TURN username and password
func (c ICE) TURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ICEServers builds the pion ICE server list.
func (c ICE) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := c.STUNServers(); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := c.TURNServers(); len(turn) > 0 {
		user, pass := c.TURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:           turn,
			Username:       user,
			Credential:     pass,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

// Server is the gateway configuration.
type Server struct {
	ListenAddr     string
	LogLevel       string
	DatabaseURL    string
	AuthSecret     string
	AllowedOrigins []string
	PublicURL      string
	ICE            ICE
	SendBuffer     int

	// PresenceBacklogWarn is the attendance backlog that gets logged as a warning.
	PresenceBacklogWarn int
}

// Client is the classroom CLI configuration.
type Client struct {
	Server   string
	Insecure bool
	Token    string
	UserID   string
	UserName string
	Role     string
	ICE      ICE
	Media    string
	LogLevel string
}

// newViper reads the optional dotenv file and wires environment lookups.
// Values already in the environment win over the file.
func newViper(dotenv string, legacy map[string]string) (*viper.Viper, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for key, env := range legacy {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), env); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// bindFlags binds each key to the flag with the same name in kebab case.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys ...string) error {
	if flags == nil {
		return nil
	}
	for _, key := range keys {
		if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadServer reads configuration with the following priority:
// 1. command line flags
// 2. environment variables (CLASSMESH_*, plus LOG_LEVEL, STUN_SERVER, ...)
// 3. the dotenv file
// 4. defaults
func LoadServer(flags *pflag.FlagSet, dotenv string) (*Server, error) {
	v, err := newViper(dotenv, map[string]string{
		"log_level":    "LOG_LEVEL",
		"stun_server":  "STUN_SERVER",
		"turn_server":  "TURN_SERVER",
		"turn_user":    "TURN_USERNAME",
		"turn_pass":    "TURN_PASSWORD",
		"database_url": "DATABASE_URL",
	})
	if err != nil {
		return nil, err
	}

	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("auth_secret", "")
	v.SetDefault("allowed_origins", "*")
	v.SetDefault("public_url", "")
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_user", "")
	v.SetDefault("turn_pass", "")
	v.SetDefault("send_buffer", DefaultSendBuffer)
	v.SetDefault("presence_backlog_warn", DefaultPresenceBacklogWarn)

	if err := bindFlags(v, flags,
		"listen_addr", "log_level", "database_url", "auth_secret", "allowed_origins", "public_url",
		"stun_server", "turn_server", "turn_user", "turn_pass", "send_buffer", "presence_backlog_warn",
	); err != nil {
		return nil, err
	}

	cfg := &Server{
		ListenAddr:     v.GetString("listen_addr"),
		LogLevel:       v.GetString("log_level"),
		DatabaseURL:    v.GetString("database_url"),
		AuthSecret:     v.GetString("auth_secret"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		PublicURL:      strings.TrimRight(v.GetString("public_url"), "/"),
		ICE: ICE{
			STUNServer: v.GetString("stun_server"),
			TURNServer: v.GetString("turn_server"),
			TURNUser:   v.GetString("turn_user"),
			TURNPass:   v.GetString("turn_pass"),
		},
		SendBuffer:          v.GetInt("send_buffer"),
		PresenceBacklogWarn: v.GetInt("presence_backlog_warn"),
	}
	if cfg.SendBuffer <= 0 || cfg.PresenceBacklogWarn <= 0 {
		return nil, fmt.Errorf("%w: send_buffer and presence_backlog_warn must be positive", ErrInvalidConfig)
	}
	return cfg, nil
}

// LoadClient reads the classroom CLI configuration with the same priority
// as LoadServer.
func LoadClient(flags *pflag.FlagSet, dotenv string) (*Client, error) {
	v, err := newViper(dotenv, map[string]string{
		"stun":      "STUN_SERVER",
		"turn":      "TURN_SERVER",
		"turn_user": "TURN_USERNAME",
		"turn_pass": "TURN_PASSWORD",
		"log_level": "LOG_LEVEL",
	})
	if err != nil {
		return nil, err
	}

	v.SetDefault("server", DefaultServer)
	v.SetDefault("insecure", false)
	v.SetDefault("token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("user_name", "")
	v.SetDefault("role", "student")
	v.SetDefault("stun", DefaultSTUN)
	v.SetDefault("turn", "")
	v.SetDefault("turn_user", "")
	v.SetDefault("turn_pass", "")
	v.SetDefault("relay", false)
	v.SetDefault("media", "silence")
	v.SetDefault("log_level", "")

	if err := bindFlags(v, flags,
		"server", "insecure", "token", "user_id", "user_name", "role",
		"stun", "turn", "turn_user", "turn_pass", "relay", "media", "log_level",
	); err != nil {
		return nil, err
	}

	cfg := &Client{
		Server:   strings.TrimRight(v.GetString("server"), "/"),
		Insecure: v.GetBool("insecure"),
		Token:    v.GetString("token"),
		UserID:   v.GetString("user_id"),
		UserName: v.GetString("user_name"),
		Role:     strings.ToLower(v.GetString("role")),
		ICE: ICE{
			STUNServer: v.GetString("stun"),
			TURNServer: v.GetString("turn"),
			TURNUser:   v.GetString("turn_user"),
			TURNPass:   v.GetString("turn_pass"),
			ForceRelay: v.GetBool("relay"),
		},
		Media:    v.GetString("media"),
		LogLevel: v.GetString("log_level"),
	}
	if cfg.Role != "teacher" && cfg.Role != "student" {
		return nil, fmt.Errorf("%w: role must be teacher or student, got %q", ErrInvalidConfig, cfg.Role)
	}
	if cfg.ICE.ForceRelay && cfg.ICE.TURNServer == "" {
		return nil, fmt.Errorf("%w: relay mode needs a TURN server", ErrInvalidConfig)
	}
	return cfg, nil
}

// baseURL returns the server address with scheme, defaulting to http(s)
// based on Insecure.
func (c *Client) baseURL() (*url.URL, error) {
	raw := c.Server
	if !strings.Contains(raw, "://") {
		scheme := "https"
		if c.Insecure {
			scheme = "http"
		}
		raw = scheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: server %q: %v", ErrInvalidConfig, c.Server, err)
	}
	return u, nil
}

// WebSocketURL is the gateway endpoint, carrying the token when one is set.
func (c *Client) WebSocketURL() (string, error) {
	u, err := c.baseURL()
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// APIURL joins path onto the REST base URL.
func (c *Client) APIURL(path string) (string, error) {
	u, err := c.baseURL()
	if err != nil {
		return "", err
	}
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else if u.Scheme == "ws" {
		u.Scheme = "http"
	}
	u.Path = "/v1/" + strings.TrimPrefix(path, "/")
	return u.String(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
