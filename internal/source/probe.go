package source

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"

	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/logger"
)

// ProbeReport summarizes a short RTSP inspection session
type ProbeReport struct {
	URL         string        `json:"url"`
	Medias      int           `json:"medias"`
	HasH264     bool          `json:"has_h264"`
	Packets     uint64        `json:"packets"`
	AccessUnits uint64        `json:"access_units"`
	Keyframes   uint64        `json:"keyframes"`
	Bytes       uint64        `json:"bytes"`
	Duration    time.Duration `json:"duration"`
}

// Probe plays an RTSP stream for the given duration and reports what it
// carries. Used by the probe command to validate a sensor URL before it
// goes into the configuration.
func Probe(ctx context.Context, rawURL string, duration time.Duration, log *logger.Logger) (*ProbeReport, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing url: %v", detect.ErrResourceUnavailable, err)
	}

	client := &gortsplib.Client{}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("%w: connecting: %v", detect.ErrResourceUnavailable, err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("%w: describe failed: %v", detect.ErrResourceUnavailable, err)
	}

	report := &ProbeReport{
		URL:      rawURL,
		Medias:   len(desc.Medias),
		Duration: duration,
	}

	h264Media := findH264(desc)
	if h264Media == nil {
		return report, nil
	}
	report.HasH264 = true

	var h264Format *format.H264
	for _, forma := range h264Media.Formats {
		if f, ok := forma.(*format.H264); ok {
			h264Format = f
			break
		}
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return nil, fmt.Errorf("%w: setup failed: %v", detect.ErrResourceUnavailable, err)
	}

	decoder := &rtph264.Decoder{}
	if err := decoder.Init(); err != nil {
		return nil, fmt.Errorf("%w: decoder init failed: %v", detect.ErrResourceUnavailable, err)
	}

	var packets, units, keyframes, payload atomic.Uint64
	client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
		packets.Add(1)
		payload.Add(uint64(len(pkt.Payload)))

		nalus, err := decoder.Decode(pkt)
		if err != nil {
			// Partial access unit, more packets needed
			return
		}
		units.Add(1)
		for _, nalu := range nalus {
			if len(nalu) > 0 && nalu[0]&0x1F == 5 {
				keyframes.Add(1)
			}
		}
	})

	if _, err := client.Play(nil); err != nil {
		return nil, fmt.Errorf("%w: play failed: %v", detect.ErrResourceUnavailable, err)
	}

	log.Info("Probing stream", "url", rawURL, "duration", duration.String())
	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}

	report.Packets = packets.Load()
	report.AccessUnits = units.Load()
	report.Keyframes = keyframes.Load()
	report.Bytes = payload.Load()
	return report, nil
}
