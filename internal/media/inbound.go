package media

import (
	"context"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog/log"
)

// PumpAudio reads opus RTP from a remote track, decodes to PCM and fans
// out to the capture buffer and the recorder. Returns when the track ends
// or ctx is done. Decode failures drop the packet, not the pump.
func PumpAudio(ctx context.Context, track *webrtc.TrackRemote, dec Decoder, capture *Capture, rec *Recorder) {
	pcm := make([]int16, 5760) // up to 120ms per opus packet
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "media.inbound").Msg("audio track ended")
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Debug().Err(err).Str("module", "media.inbound").Msg("opus decode failed, packet dropped")
			continue
		}
		raw := pcmToBytes(pcm[:n])
		capture.OnFrame(raw, SampleRate)
		rec.PushAudioPCM(raw, SampleRate)
	}
}

// PumpVideo reassembles VP8 frames from a remote track and feeds the
// recorder.
func PumpVideo(ctx context.Context, track *webrtc.TrackRemote, rec *Recorder) {
	sb := samplebuilder.New(10, &codecs.VP8Packet{}, track.Codec().ClockRate)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "media.inbound").Msg("video track ended")
			return
		}
		sb.Push(pkt)
		for {
			sample := sb.Pop()
			if sample == nil {
				break
			}
			rec.PushVideo(*sample)
		}
	}
}
