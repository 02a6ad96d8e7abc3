package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"syscall"
	"time"

	"interview_room/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const defaultFPS = 30

// FileSource stands in for a camera and microphone. VideoPath is an H264
// Annex-B stream (file, FIFO or device pipe); AudioPath is an optional
// Ogg/Opus stream. Regular files are replayed from the start when Loop is set.
type FileSource struct {
	VideoPath string
	AudioPath string
	Loop      bool
}

// Acquire opens the configured devices and starts pumping samples into
// local tracks. Failures are returned as *domain.MediaError.
func (f *FileSource) Acquire(ctx context.Context, c domain.Constraints) (domain.LocalStream, error) {
	video, err := openDevice(f.VideoPath)
	if err != nil {
		return nil, err
	}

	var audio *os.File
	if c.Audio && f.AudioPath != "" {
		audio, err = openDevice(f.AudioPath)
		if err != nil {
			video.Close()
			return nil, err
		}
	}

	fps := c.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	log.Printf("[media] acquired %s (%dx%d@%d, audio=%v)", f.VideoPath, c.Width, c.Height, fps, audio != nil)

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &fileStream{cancel: cancel, files: []*os.File{video}}

	videoTrack, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeH264}, "video", "interview-local")
	if err != nil {
		s.Stop()
		return nil, &domain.MediaError{Reason: domain.MediaUnknown, Device: f.VideoPath, Err: err}
	}
	s.tracks = append(s.tracks, videoTrack)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pumpVideo(pumpCtx, video, videoTrack, time.Second/time.Duration(fps), f.Loop)
	}()

	if audio != nil {
		s.files = append(s.files, audio)
		audioTrack, err := pion.NewTrackLocalStaticSample(
			pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}, "audio", "interview-local")
		if err != nil {
			s.Stop()
			return nil, &domain.MediaError{Reason: domain.MediaUnknown, Device: f.AudioPath, Err: err}
		}
		s.tracks = append(s.tracks, audioTrack)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			pumpAudio(pumpCtx, audio, audioTrack, f.Loop)
		}()
	}

	// Acquisition is bound to ctx only until it returns.
	if err := ctx.Err(); err != nil {
		s.Stop()
		return nil, &domain.MediaError{Reason: domain.MediaUnknown, Device: f.VideoPath, Err: err}
	}
	return s, nil
}

func openDevice(path string) (*os.File, error) {
	if path == "" {
		return nil, &domain.MediaError{Reason: domain.MediaNoDevice}
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, &domain.MediaError{Reason: classify(err), Device: path, Err: err}
	}
	return file, nil
}

func classify(err error) domain.MediaFailure {
	switch {
	case errors.Is(err, os.ErrPermission):
		return domain.MediaPermissionDenied
	case errors.Is(err, os.ErrNotExist):
		return domain.MediaNoDevice
	case errors.Is(err, syscall.EBUSY):
		return domain.MediaDeviceInUse
	default:
		return domain.MediaUnknown
	}
}

type fileStream struct {
	tracks []pion.TrackLocal
	files  []*os.File
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *fileStream) Tracks() []pion.TrackLocal { return s.tracks }

// Stop halts pumping and closes the devices. Safe to call more than once.
func (s *fileStream) Stop() {
	s.once.Do(func() {
		s.cancel()
		// Closing unblocks readers parked on a FIFO.
		for _, f := range s.files {
			f.Close()
		}
		s.wg.Wait()
		log.Printf("[media] local stream stopped")
	})
}

func rewind(f *os.File) bool {
	_, err := f.Seek(0, io.SeekStart)
	return err == nil
}

func pumpVideo(ctx context.Context, f *os.File, track *pion.TrackLocalStaticSample, frame time.Duration, loop bool) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		reader, err := h264reader.NewReader(f)
		if err != nil {
			log.Printf("[media] open h264 stream: %v", err)
			return
		}
		for {
			nal, err := reader.NextNAL()
			if err != nil {
				if errors.Is(err, io.EOF) && loop && rewind(f) {
					break
				}
				if ctx.Err() == nil {
					log.Printf("[media] video stream ended: %v", err)
				}
				return
			}

			// Parameter sets and SEI ride along with the next slice.
			vcl := nal.UnitType == h264reader.NalUnitTypeCodedSliceNonIdr ||
				nal.UnitType == h264reader.NalUnitTypeCodedSliceIdr
			if vcl {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
			if err := track.WriteSample(pionmedia.Sample{Data: nal.Data, Duration: frame}); err != nil {
				log.Printf("[media] write video sample: %v", err)
			}
		}
	}
}

func pumpAudio(ctx context.Context, f *os.File, track *pion.TrackLocalStaticSample, loop bool) {
	for {
		ogg, _, err := oggreader.NewWith(f)
		if err != nil {
			log.Printf("[media] open ogg stream: %v", err)
			return
		}

		var lastGranule uint64
		for {
			page, header, err := ogg.ParseNextPage()
			if err != nil {
				if errors.Is(err, io.EOF) && loop && rewind(f) {
					break
				}
				if ctx.Err() == nil {
					log.Printf("[media] audio stream ended: %v", err)
				}
				return
			}

			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(float64(samples)/48000*1000) * time.Millisecond

			if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
				log.Printf("[media] write audio sample: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(duration):
			}
		}
	}
}

// String describes the source for logs.
func (f *FileSource) String() string {
	return fmt.Sprintf("file video=%s audio=%s", f.VideoPath, f.AudioPath)
}
