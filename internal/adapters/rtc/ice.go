// Package rtc hands clients what they need to reach the external peer layer.
package rtc

import (
	"fmt"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ClientConfig is the body of GET /api/webrtc/config.
type ClientConfig struct {
	ICEServers         []webrtc.ICEServer        `json:"iceServers"`
	ICETransportPolicy webrtc.ICETransportPolicy `json:"iceTransportPolicy"`
}

// BuildConfiguration validates the configured servers. Entries with an
// unparsable URL are skipped; TURN entries need credentials.
func BuildConfiguration(servers []config.ICEServer) (webrtc.Configuration, error) {
	if len(servers) == 0 {
		return DefaultWebRTCConfig(), nil
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		urls := make([]string, 0, len(s.URLs))
		turn := false
		for _, raw := range s.URLs {
			u, err := stun.ParseURI(raw)
			if err != nil {
				log.Warn().Err(err).Str("module", "rtc").Str("url", raw).Msg("skip ICE url")
				continue
			}
			if u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS {
				turn = true
			}
			urls = append(urls, raw)
		}
		if len(urls) == 0 {
			continue
		}
		if turn && (s.Username == "" || s.Credential == "") {
			return webrtc.Configuration{}, fmt.Errorf("turn server %v needs username and credential", urls)
		}
		srv := webrtc.ICEServer{URLs: urls, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	if len(out) == 0 {
		return webrtc.Configuration{}, fmt.Errorf("no usable ICE servers")
	}
	return webrtc.Configuration{ICEServers: out, ICETransportPolicy: webrtc.ICETransportPolicyAll}, nil
}

func ClientConfigOf(cfg webrtc.Configuration) ClientConfig {
	return ClientConfig{ICEServers: cfg.ICEServers, ICETransportPolicy: cfg.ICETransportPolicy}
}
