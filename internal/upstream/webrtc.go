package upstream

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// newPeerConnection builds a pion PeerConnection configured for a single Opus
// audio transceiver, with pion's default interceptor set (NACK, RTCP reports,
// TWCC) registered: a session meant to survive network loss over a
// longer-lived call needs retransmission on by default.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, url := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}
