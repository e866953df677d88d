package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/screensync/internal/model"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func testTrace() *model.Trace {
	return &model.Trace{
		CorrelationID: "0b6c7c9e-1f0a-4f43-9d55-8d1c3f0f6a11",
		Operation:     model.OperationPublish,
		Subject:       "adv-1",
		Outcome:       model.OutcomePartial,
		Code:          model.CodePushFailed,
		Steps:         []model.TraceStep{{Name: "asset_selection", Outcome: model.StepOK}},
		StartedAt:     time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC),
	}
}

func TestS3Store_Save(t *testing.T) {
	fake := &fakePutter{}
	store := newS3Store(fake, "traces", "screensync", zerolog.Nop())

	require.NoError(t, store.Save(context.Background(), testTrace()))
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "traces", *in.Bucket)
	assert.Equal(t, "screensync/publish/2026/03/09/0b6c7c9e-1f0a-4f43-9d55-8d1c3f0f6a11.json", *in.Key)
	assert.Equal(t, "application/json", *in.ContentType)
	assert.Equal(t, model.OutcomePartial, in.Metadata["outcome"])

	var got model.Trace
	require.NoError(t, json.Unmarshal(fake.bodies[0], &got))
	assert.Equal(t, model.CodePushFailed, got.Code)
	assert.Len(t, got.Steps, 1)
}

func TestS3Store_SaveError(t *testing.T) {
	store := newS3Store(&fakePutter{err: errors.New("AccessDenied")}, "traces", "", zerolog.Nop())

	err := store.Save(context.Background(), testTrace())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://traces/publish/2026/03/09/")
}

func TestObjectKey_NoPrefix(t *testing.T) {
	assert.Equal(t, "publish/2026/03/09/0b6c7c9e-1f0a-4f43-9d55-8d1c3f0f6a11.json", objectKey("", testTrace()))
}

func TestNewS3Store(t *testing.T) {
	store := NewS3Store(Config{Endpoint: "http://localhost:7480", Bucket: "traces"}, zerolog.Nop())
	assert.NotNil(t, store.client)
	assert.Equal(t, "traces", store.bucket)
}
