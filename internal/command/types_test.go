package command

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_Order(t *testing.T) {
	all := AllPriorities()
	require.Len(t, all, NumPriorities)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1], all[i])
	}
	assert.Equal(t, PriorityEmergency, all[len(all)-1])
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"low", PriorityLow, false},
		{"Normal", PriorityNormal, false},
		{" high ", PriorityHigh, false},
		{"critical", PriorityCritical, false},
		{"EMERGENCY", PriorityEmergency, false},
		{"urgent", PriorityNormal, true},
		{"", PriorityNormal, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriority_JSON(t *testing.T) {
	data, err := json.Marshal(PriorityCritical)
	require.NoError(t, err)
	assert.JSONEq(t, `"critical"`, string(data))

	var p Priority
	require.NoError(t, json.Unmarshal([]byte(`"emergency"`), &p))
	assert.Equal(t, PriorityEmergency, p)

	assert.Error(t, json.Unmarshal([]byte(`3`), &p))
	_, err = json.Marshal(Priority(9))
	assert.Error(t, err)
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true,
		StatusFailed:    true,
		StatusExpired:   true,
	}
	for _, s := range AllStatuses() {
		assert.Equal(t, terminal[s], s.IsTerminal(), "status %s", s)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("AWAITING_ACK")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingAck, s)

	_, err = ParseStatus("running")
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestSource_Ref(t *testing.T) {
	tests := []struct {
		src  Source
		want string
	}{
		{UserSource("u-1"), "u-1"},
		{SystemSource("startup"), "startup"},
		{RuleSource("r-9"), "r-9"},
		{WorkflowSource("wf-2"), "wf-2"},
		{AgentSource("sess-4"), "sess-4"},
		{Source{Kind: "robot", ActorID: "x"}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.src.Ref(), "kind %s", tt.src.Kind)
	}
	assert.Equal(t, "user:u-1", UserSource("u-1").String())
}

func TestTerminalEvent(t *testing.T) {
	for _, s := range AllStatuses() {
		et, ok := TerminalEvent(s)
		assert.Equal(t, s.IsTerminal(), ok, "status %s", s)
		if ok {
			assert.True(t, et.IsTerminal())
			assert.Equal(t, string(s), string(et))
		}
	}
}

func TestIsAckError(t *testing.T) {
	assert.True(t, IsAckError(ErrUnknownCommand))
	assert.True(t, IsAckError(ErrStaleAck))
	assert.True(t, IsAckError(errors.Join(errors.New("decode"), ErrMalformedAck)))
	assert.False(t, IsAckError(ErrQueueFull))
	assert.False(t, IsAckError(nil))
}
