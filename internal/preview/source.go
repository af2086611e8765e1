// Package preview streams a camera's RTSP video to browsers over WebRTC.
//
// A Source keeps one RTSP session per camera and fans RTP packets out to
// every subscribed Viewer. Slow viewers drop packets rather than stall the
// others.
package preview

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	log "github.com/sirupsen/logrus"
)

const (
	maxBackoff      = 30 * time.Second
	rtspIOTimeout   = 10 * time.Second
	subscriberQueue = 500
)

// Source pulls one camera's RTSP stream
type Source struct {
	url    string
	log    *log.Entry
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	client  *gortsplib.Client
	subs    map[uint64]chan []byte
	nextID  uint64
	started bool
	stopped bool
}

// NewSource creates a Source for rtspURL; nothing is dialled until Start
func NewSource(camera, rtspURL string) (*Source, error) {
	if _, err := base.ParseURL(rtspURL); err != nil {
		return nil, fmt.Errorf("invalid rtsp url: %w", err)
	}
	return &Source{
		url:    rtspURL,
		log:    log.WithFields(log.Fields{"camera": camera, "component": "preview"}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		subs:   make(map[uint64]chan []byte),
	}, nil
}

// Start connects in the background and keeps reconnecting until Close
func (s *Source) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run()
}

// Subscribe returns a channel of marshalled RTP packets and a func that
// ends the subscription. The channel is closed when either happens.
func (s *Source) Subscribe() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan []byte, subscriberQueue)
	if s.stopped {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers returns the number of active subscriptions
func (s *Source) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close stops the RTSP session and ends every subscription
func (s *Source) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	client := s.client
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub)
	}
	s.mu.Unlock()

	close(s.stopCh)
	if client != nil {
		client.Close()
	}
	if started {
		<-s.doneCh
	}
	return nil
}

func (s *Source) publish(pkt []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub <- pkt:
		default:
			// Viewer is behind, drop for this one only
		}
	}
}

// run keeps one RTSP session alive, backing off exponentially between failures
func (s *Source) run() {
	defer close(s.doneCh)

	for attempt := 0; ; {
		client, err := s.connect()
		if err == nil {
			attempt = 0
			s.log.Info("RTSP connected and playing")
			err = client.Wait()
			s.mu.Lock()
			s.client = nil
			s.mu.Unlock()
		}

		select {
		case <-s.stopCh:
			return
		default:
		}

		attempt++
		delay := min(time.Duration(1<<uint(min(attempt-1, 5)))*time.Second, maxBackoff)
		s.log.Warnf("RTSP session ended (%v), reconnecting in %v", err, delay)

		select {
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

func (s *Source) connect() (*gortsplib.Client, error) {
	u, err := base.ParseURL(s.url)
	if err != nil {
		return nil, err
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  rtspIOTimeout,
		WriteTimeout: rtspIOTimeout,
		OnDecodeError: func(err error) {
			s.log.Debugf("RTSP decode error: %v", err)
		},
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, err
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return nil, err
	}

	media := findVideo(desc)
	if media == nil {
		client.Close()
		return nil, errors.New("no video media in stream")
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return nil, err
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		s.publish(buf)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return nil, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		client.Close()
		return nil, errors.New("source closed")
	}
	s.client = client
	s.mu.Unlock()

	return client, nil
}

// findVideo prefers an H264 media, then any video media
func findVideo(desc *description.Session) *description.Media {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if _, ok := forma.(*format.H264); ok {
				return media
			}
		}
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media
		}
	}
	return nil
}
