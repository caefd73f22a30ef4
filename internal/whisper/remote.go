package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"podpirate/whisper-service/config"
)

// RemoteServiceName is the gRPC service a remote inference server must expose
// and report as SERVING through grpc.health.v1.
const RemoteServiceName = "whisper.v1.Transcriber"

const (
	remoteTranscribeMethod = "/" + RemoteServiceName + "/Transcribe"
	uploadChunkSize        = 64 << 10
)

// The Transcribe RPC is a bidi stream. The client sends an Any(Struct) with the
// model settings followed by Any(BytesValue) chunks of the audio file, then
// closes its side. The server answers with Structs carrying one of the keys
// "segment" {start,end,text}, "info" {language,language_probability,duration}
// or "error" (string).
var transcribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "Transcribe",
	ServerStreams: true,
	ClientStreams: true,
}

// Remote delegates inference to a gRPC server holding the model.
type Remote struct {
	conn *grpc.ClientConn
	cfg  config.ModelConfig
	log  *logrus.Logger
}

// NewRemote connects to cfg.GRPCAddr and checks that the server is serving.
func NewRemote(ctx context.Context, cfg config.ModelConfig, log *logrus.Logger) (*Remote, error) {
	log.Infof("Attempting to connect to whisper gRPC server at %s", cfg.GRPCAddr)

	// The inference server is expected on a private network; no TLS.
	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("whisper: connect %s: %w", cfg.GRPCAddr, err)
	}
	r, err := newRemote(ctx, conn, cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func newRemote(ctx context.Context, conn *grpc.ClientConn, cfg config.ModelConfig, log *logrus.Logger) (*Remote, error) {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: RemoteServiceName})
	if err != nil {
		return nil, fmt.Errorf("whisper: health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return nil, fmt.Errorf("whisper: remote %s is %s", RemoteServiceName, resp.GetStatus())
	}

	log.Infof("Successfully connected to whisper gRPC server at %s", cfg.GRPCAddr)
	return &Remote{conn: conn, cfg: cfg, log: log}, nil
}

// Transcribe uploads the audio file over one Transcribe call and streams back
// the server's segments.
func (r *Remote) Transcribe(ctx context.Context, audioPath string, opts Options) (SegmentStream, error) {
	opts = normalizeOptions(opts)

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: open audio: %w", err)
	}
	defer f.Close()

	settings, err := structpb.NewStruct(map[string]any{
		"model":        r.cfg.Name,
		"device":       r.cfg.Device,
		"compute_type": r.cfg.ComputeType,
		"beam_size":    opts.BeamSize,
		"filename":     filepath.Base(audioPath),
	})
	if err != nil {
		return nil, fmt.Errorf("whisper: encode settings: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := r.conn.NewStream(streamCtx, transcribeStreamDesc, remoteTranscribeMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("whisper: open stream: %w", err)
	}

	if err := upload(stream, settings, f); err != nil {
		cancel()
		return nil, err
	}
	return &remoteStream{stream: stream, cancel: cancel}, nil
}

// upload sends the settings and the audio, then half-closes the stream. An
// io.EOF from SendMsg means the server already ended the call; its status is
// reported by the first RecvMsg.
func upload(stream grpc.ClientStream, settings *structpb.Struct, audio io.Reader) error {
	first, err := anypb.New(settings)
	if err != nil {
		return fmt.Errorf("whisper: wrap settings: %w", err)
	}
	if err := stream.SendMsg(first); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("whisper: send settings: %w", err)
	}

	buf := make([]byte, uploadChunkSize)
	for {
		n, readErr := audio.Read(buf)
		if n > 0 {
			chunk, err := anypb.New(wrapperspb.Bytes(buf[:n]))
			if err != nil {
				return fmt.Errorf("whisper: wrap chunk: %w", err)
			}
			if err := stream.SendMsg(chunk); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("whisper: send audio: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("whisper: read audio: %w", readErr)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("whisper: close send: %w", err)
	}
	return nil
}

// Close closes the connection to the inference server.
func (r *Remote) Close() error {
	r.log.Info("Closing connection to whisper gRPC server")
	return r.conn.Close()
}

type remoteStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc

	info      Info
	err       error
	finished  bool
	closeOnce sync.Once
}

func (s *remoteStream) Next() (Segment, error) {
	for !s.finished {
		var msg structpb.Struct
		if err := s.stream.RecvMsg(&msg); err != nil {
			s.finished = true
			if !errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("whisper: remote: %w", err)
			}
			break
		}

		fields := msg.GetFields()
		if v, ok := fields["error"]; ok {
			s.finished = true
			s.err = fmt.Errorf("whisper: remote: %s", v.GetStringValue())
			break
		}
		if v, ok := fields["info"]; ok {
			info := v.GetStructValue().GetFields()
			s.info = Info{
				Language:            info["language"].GetStringValue(),
				LanguageProbability: info["language_probability"].GetNumberValue(),
				Duration:            info["duration"].GetNumberValue(),
			}
		}
		if v, ok := fields["segment"]; ok {
			seg := v.GetStructValue().GetFields()
			return Segment{
				Start: seg["start"].GetNumberValue(),
				End:   seg["end"].GetNumberValue(),
				Text:  seg["text"].GetStringValue(),
			}, nil
		}
	}
	if s.err != nil {
		return Segment{}, s.err
	}
	return Segment{}, io.EOF
}

func (s *remoteStream) Info() Info {
	return s.info
}

func (s *remoteStream) Close() error {
	s.closeOnce.Do(func() {
		s.finished = true
		s.cancel()
	})
	return nil
}
