package preview

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"
)

// ViewerConfig for WebRTC viewers
type ViewerConfig struct {
	ICEServers []string // STUN/TURN server URLs
}

// DefaultViewerConfig returns a configuration using a public STUN server
func DefaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}
}

// Viewer is the WebRTC peer of one browser watching a camera
type Viewer struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP
	log   *log.Entry

	mu     sync.Mutex
	closed bool
}

// NewViewer creates a peer connection carrying one H264 track.
// onICE receives local ICE candidates to relay to the browser.
func NewViewer(camera string, cfg ViewerConfig, onICE func(webrtc.ICECandidateInit)) (*Viewer, error) {
	config := webrtc.Configuration{}
	for _, url := range cfg.ICEServers {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"ptz-"+camera,
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to add video track: %w", err)
	}

	v := &Viewer{
		pc:    pc,
		track: track,
		log:   log.WithFields(log.Fields{"camera": camera, "component": "viewer"}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && onICE != nil {
			onICE(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		v.log.Debugf("WebRTC connection state: %s", s)
	})

	return v, nil
}

// CreateOffer returns the local SDP offer once ICE gathering completes
func (v *Viewer) CreateOffer() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(v.pc)
	if err := v.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	return v.pc.LocalDescription().SDP, nil
}

// SetAnswer applies the browser's SDP answer
func (v *Viewer) SetAnswer(sdp string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate
func (v *Viewer) AddICECandidate(candidate, sdpMid string, sdpMLineIndex uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	})
	if err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// Forward writes packets to the video track until the channel is closed
// or the track stops accepting them
func (v *Viewer) Forward(packets <-chan []byte) {
	for pkt := range packets {
		if _, err := v.track.Write(pkt); err != nil {
			v.log.Debugf("Stopped forwarding: %v", err)
			return
		}
	}
}

// Close closes the peer connection
func (v *Viewer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	return v.pc.Close()
}
