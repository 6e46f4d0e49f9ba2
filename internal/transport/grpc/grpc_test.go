package grpc

import (
	"context"
	"encoding/base64"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fuangela/AutoDrone/internal/dispatch"
	"github.com/fuangela/AutoDrone/internal/mission"
	"github.com/fuangela/AutoDrone/internal/replan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeService struct {
	mu     sync.Mutex
	got    *mission.Request
	status mission.Status
	active *dispatch.Active
}

func (s *fakeService) Handle(_ context.Context, req *mission.Request) (*mission.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = req
	res := &mission.Result{MissionID: "m-1", Goal: req.Text, Status: s.status, Report: "landed", Replans: 2}
	switch s.status {
	case "":
		res.Status = mission.StatusSucceeded
		res.Attempts = []replan.Attempt{{Number: 1, Program: "takeoff(); land()"}}
	case mission.StatusBusy:
		res.Error = dispatch.ErrBusy.Error()
	case mission.StatusRejected:
		res.Error = "request has no audio and no text"
	}
	return res, nil
}

func (s *fakeService) Cancel() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", dispatch.ErrNoMission
	}
	return s.active.ID, nil
}

func (s *fakeService) Current() (dispatch.Active, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return dispatch.Active{}, false
	}
	return *s.active, true
}

func (s *fakeService) request() *mission.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

func dial(t *testing.T, svc *fakeService) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	tr := New(0)
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx, lis, svc) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("grpc server did not stop")
		}
	})
	return conn
}

func submit(t *testing.T, conn *grpc.ClientConn, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), SubmitMethod, in, out)
	return out, err
}

func TestSubmit_Text(t *testing.T) {
	svc := &fakeService{}
	conn := dial(t, svc)

	out, err := submit(t, conn, map[string]any{"text": "take off and land", "source": "ground", "response_mode": "text"})
	require.NoError(t, err)

	f := out.GetFields()
	assert.Equal(t, "m-1", f["mission_id"].GetStringValue())
	assert.Equal(t, "succeeded", f["status"].GetStringValue())
	assert.Equal(t, "landed", f["report"].GetStringValue())
	assert.Equal(t, 2.0, f["replans"].GetNumberValue())
	attempts := f["attempts"].GetListValue().GetValues()
	require.Len(t, attempts, 1)
	assert.Equal(t, "takeoff(); land()", attempts[0].GetStructValue().GetFields()["program"].GetStringValue())

	got := svc.request()
	assert.Equal(t, "ground", got.Source)
	assert.Equal(t, mission.ResponseModeText, got.ResponseMode)
}

func TestSubmit_AudioAndPeerSource(t *testing.T) {
	svc := &fakeService{}
	conn := dial(t, svc)

	_, err := submit(t, conn, map[string]any{
		"audio":        base64.StdEncoding.EncodeToString([]byte("RIFF")),
		"content_type": "audio/wav",
	})
	require.NoError(t, err)
	got := svc.request()
	assert.Equal(t, []byte("RIFF"), got.Audio)
	assert.NotEmpty(t, got.Source, "falls back to the peer address")
}

func TestSubmit_ErrorCodes(t *testing.T) {
	cases := []struct {
		name   string
		status mission.Status
		fields map[string]any
		want   codes.Code
	}{
		{"busy", mission.StatusBusy, map[string]any{"text": "x"}, codes.Unavailable},
		{"rejected", mission.StatusRejected, map[string]any{}, codes.InvalidArgument},
		{"bad audio", "", map[string]any{"audio": "%%%"}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, &fakeService{status: tc.status})
			_, err := submit(t, conn, tc.fields)
			require.Error(t, err)
			assert.Equal(t, tc.want, status.Code(err))
		})
	}
}

func TestStop(t *testing.T) {
	svc := &fakeService{}
	conn := dial(t, svc)

	err := conn.Invoke(context.Background(), StopMethod, &emptypb.Empty{}, new(emptypb.Empty))
	assert.Equal(t, codes.NotFound, status.Code(err))

	svc.mu.Lock()
	svc.active = &dispatch.Active{ID: "m-9"}
	svc.mu.Unlock()
	err = conn.Invoke(context.Background(), StopMethod, &emptypb.Empty{}, new(emptypb.Empty))
	assert.NoError(t, err)
}
