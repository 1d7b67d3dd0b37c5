package broadcast

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id      string
	sent    [][]byte
	sendErr error
}

func (f *fakeClient) ID() string { return f.id }
func (f *fakeClient) Send(data []byte, isText bool) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func TestAddReplaysLastCursor(t *testing.T) {
	b := New()
	b.NoteCursor([]byte("cursor,abc"), true)

	c := &fakeClient{id: "one"}
	b.Add(c)

	require.Len(t, c.sent, 1)
	assert.Equal(t, "cursor,abc", string(c.sent[0]))
}

func TestBroadcastFansOutToAll(t *testing.T) {
	b := New()
	a := &fakeClient{id: "a"}
	c := &fakeClient{id: "c"}
	b.Add(a)
	b.Add(c)

	b.Broadcast([]byte("frame"), false)

	assert.Len(t, a.sent, 1)
	assert.Len(t, c.sent, 1)
}

func TestBroadcastIgnoresPerClientErrors(t *testing.T) {
	b := New()
	bad := &fakeClient{id: "bad", sendErr: errors.New("closed")}
	good := &fakeClient{id: "good"}
	b.Add(bad)
	b.Add(good)

	assert.NotPanics(t, func() {
		b.Broadcast([]byte("frame"), false)
	})
	assert.Len(t, good.sent, 1)
}

func TestRemoveIsIdempotent(t *testing.T) {
	b := New()
	b.Remove("missing")
	assert.Equal(t, 0, b.Count())
}

func TestAddReplacesExisting(t *testing.T) {
	b := New()
	b.Add(&fakeClient{id: "one"})
	b.Add(&fakeClient{id: "one"})
	assert.Equal(t, 1, b.Count())
}
