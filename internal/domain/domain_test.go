package domain

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob_UniqueIDs(t *testing.T) {
	const (
		goroutines = 10
		perWorker  = 10000
	)

	ids := make(chan string, goroutines*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- NewJob("dog.jpeg", ModelResNet50).ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, goroutines*perWorker)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate job id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, goroutines*perWorker)
}

func TestDecodeJob(t *testing.T) {
	valid := NewJob("cat.png", ModelDenseNet121)
	validBody, err := valid.Encode()
	require.NoError(t, err)

	tests := []struct {
		name      string
		body      []byte
		wantErr   bool
		wantJobID string
	}{
		{
			name:      "valid job",
			body:      validBody,
			wantJobID: valid.ID,
		},
		{
			name:    "not json",
			body:    []byte("not-json"),
			wantErr: true,
		},
		{
			name:    "id is not a uuid",
			body:    []byte(`{"id":"abc","image_name":"cat.png","model":"ResNet50"}`),
			wantErr: true,
		},
		{
			name:      "valid id but wrong field types",
			body:      []byte(`{"id":"` + valid.ID + `","image_name":42}`),
			wantErr:   true,
			wantJobID: valid.ID,
		},
		{
			name:      "missing image name",
			body:      []byte(`{"id":"` + valid.ID + `","model":"ResNet50"}`),
			wantErr:   true,
			wantJobID: valid.ID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := DecodeJob(tt.body)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidJob))
			} else {
				require.NoError(t, err)
				assert.Equal(t, valid.ImageName, job.ImageName)
				assert.Equal(t, valid.Model, job.Model)
			}

			if tt.wantJobID != "" {
				require.NotNil(t, job)
				assert.Equal(t, tt.wantJobID, job.ID)
			} else if tt.wantErr {
				assert.Nil(t, job)
			}
		})
	}
}

func TestResult_IsFailure(t *testing.T) {
	assert.True(t, FailureResult("boom").IsFailure())
	assert.True(t, Result{}.IsFailure())
	assert.False(t, Result{Prediction: "cat", Score: 0.9}.IsFailure())
	assert.False(t, Result{Prediction: "cat", Score: 0}.IsFailure())
}

func TestRoundScore(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.9456, 0.946},
		{0.1234, 0.123},
		{1, 1},
		{0, 0},
		{0.0005, 0.001},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, RoundScore(tt.in), 1e-9, "RoundScore(%v)", tt.in)
	}
}

func TestParseModelSelector(t *testing.T) {
	m, err := ParseModelSelector("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, m)

	for _, want := range SupportedModels {
		got, err := ParseModelSelector(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = ParseModelSelector("VGG16")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestSubmissionError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&SubmissionError{JobID: "j1", Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "j1")

	var subErr *SubmissionError
	assert.True(t, errors.As(err, &subErr))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRetryableError(errors.New("x"))))
	assert.False(t, IsRetryable(errors.New("x")))
}
