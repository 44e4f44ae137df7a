package progress

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kubegems.io/airlock/pkg/storage"
)

type recordingSink struct {
	got map[string][]byte
	err error
}

func (r *recordingSink) Put(ctx context.Context, obj storage.Object) error {
	rc, err := obj.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	r.got[obj.Key] = content
	return nil
}

func TestSink_Put(t *testing.T) {
	inner := &recordingSink{got: map[string][]byte{}}
	out := &bytes.Buffer{}
	sink := NewSink(inner, out)

	content := bytes.Repeat([]byte("weights"), 1024)
	require.NoError(t, sink.Put(context.Background(), storage.BytesObject("b", "arm-policy/1.0.0/arm_policy.pt", content, "")))
	sink.Wait()

	assert.Equal(t, content, inner.got["arm-policy/1.0.0/arm_policy.pt"])
	assert.Contains(t, out.String(), "arm_policy.pt")
}

func TestSink_PutFailure(t *testing.T) {
	inner := &recordingSink{got: map[string][]byte{}, err: errors.New("connection reset")}
	sink := NewSink(inner, io.Discard)

	err := sink.Put(context.Background(), storage.BytesObject("b", "arm-policy/1.0.0/model.yaml", []byte("name: arm-policy"), ""))
	sink.Wait()

	assert.EqualError(t, err, "connection reset")
	assert.Empty(t, inner.got)
}

func TestHumanSize(t *testing.T) {
	assert.Contains(t, HumanSize(5_200_000), "MB")
	assert.Contains(t, HumanSize(5_200_000), "5.2")
}
