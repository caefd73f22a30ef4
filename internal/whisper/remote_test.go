package whisper

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"podpirate/whisper-service/config"
)

// fakeInferenceServer records what it received and answers with two segments,
// or with an error when the audio is "corrupt".
type fakeInferenceServer struct {
	mu       sync.Mutex
	settings map[string]any
	audio    []byte
}

func (f *fakeInferenceServer) handle(_ any, stream grpc.ServerStream) error {
	var settings *structpb.Struct
	var audio []byte
	for {
		var msg anypb.Any
		err := stream.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch {
		case msg.MessageIs(&structpb.Struct{}):
			settings = &structpb.Struct{}
			if err := msg.UnmarshalTo(settings); err != nil {
				return err
			}
		case msg.MessageIs(&wrapperspb.BytesValue{}):
			var chunk wrapperspb.BytesValue
			if err := msg.UnmarshalTo(&chunk); err != nil {
				return err
			}
			audio = append(audio, chunk.GetValue()...)
		}
	}

	f.mu.Lock()
	f.settings = settings.AsMap()
	f.audio = audio
	f.mu.Unlock()

	send := func(m map[string]any) error {
		s, err := structpb.NewStruct(m)
		if err != nil {
			return err
		}
		return stream.SendMsg(s)
	}

	if string(audio) == "corrupt" {
		return send(map[string]any{"error": "Invalid data found when processing input"})
	}
	if err := send(map[string]any{"segment": map[string]any{"start": 0.0, "end": 1.5, "text": " Ahoy."}}); err != nil {
		return err
	}
	if err := send(map[string]any{"segment": map[string]any{"start": 1.5, "end": 3.25, "text": " Ship ahead. "}}); err != nil {
		return err
	}
	return send(map[string]any{"info": map[string]any{
		"language": "en", "language_probability": 0.88, "duration": 3.5,
	}})
}

func startFakeInferenceServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) (*fakeInferenceServer, *grpc.ClientConn) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	fake := &fakeInferenceServer{}
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: RemoteServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Transcribe",
			Handler:       fake.handle,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, fake)

	hs := health.NewServer()
	hs.SetServingStatus(RemoteServiceName, status)
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return fake, conn
}

func writeAudio(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.audio")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestRemoteTranscribe(t *testing.T) {
	fake, conn := startFakeInferenceServer(t, healthpb.HealthCheckResponse_SERVING)

	cfg := config.Default().Model
	cfg.Backend = config.BackendGRPC
	cfg.Name = "medium"
	remote, err := newRemote(context.Background(), conn, cfg, testLogger())
	if err != nil {
		t.Fatalf("newRemote: %v", err)
	}

	// Larger than one upload chunk so the audio arrives in pieces.
	content := []byte(strings.Repeat("RIFF", uploadChunkSize/2))
	stream, err := remote.Transcribe(context.Background(), writeAudio(t, content), Options{})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	defer stream.Close()

	var texts []string
	for {
		seg, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		texts = append(texts, seg.Text)
	}

	if len(texts) != 2 || texts[0] != " Ahoy." {
		t.Errorf("unexpected segments %q", texts)
	}
	info := stream.Info()
	if info.Language != "en" || info.LanguageProbability != 0.88 || info.Duration != 3.5 {
		t.Errorf("unexpected info %+v", info)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.audio) != len(content) {
		t.Errorf("server received %d bytes, want %d", len(fake.audio), len(content))
	}
	if fake.settings["model"] != "medium" || fake.settings["beam_size"] != float64(DefaultBeamSize) {
		t.Errorf("unexpected settings %v", fake.settings)
	}
}

func TestRemoteTranscribeError(t *testing.T) {
	_, conn := startFakeInferenceServer(t, healthpb.HealthCheckResponse_SERVING)

	remote, err := newRemote(context.Background(), conn, config.Default().Model, testLogger())
	if err != nil {
		t.Fatalf("newRemote: %v", err)
	}

	stream, err := remote.Transcribe(context.Background(), writeAudio(t, []byte("corrupt")), Options{})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected remote error, got %v", err)
	}
	// The error sticks.
	if _, err := stream.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("expected the same error again, got %v", err)
	}
}

func TestRemoteNotServing(t *testing.T) {
	_, conn := startFakeInferenceServer(t, healthpb.HealthCheckResponse_NOT_SERVING)

	if _, err := newRemote(context.Background(), conn, config.Default().Model, testLogger()); err == nil {
		t.Fatalf("expected error when the server is not serving")
	}
}

func TestRemoteMissingFile(t *testing.T) {
	_, conn := startFakeInferenceServer(t, healthpb.HealthCheckResponse_SERVING)

	remote, err := newRemote(context.Background(), conn, config.Default().Model, testLogger())
	if err != nil {
		t.Fatalf("newRemote: %v", err)
	}
	if _, err := remote.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.audio"), Options{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
