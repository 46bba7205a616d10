package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursesearch/internal/providers"
	"coursesearch/internal/regen"
	"coursesearch/internal/util"
)

type fakeRunner struct {
	failCourse string
	pruned     int
	courses    []string
}

func (f *fakeRunner) RegenerateCourse(_ context.Context, id string) (regen.CourseResult, error) {
	if id == f.failCourse {
		return regen.CourseResult{}, fmt.Errorf("get course %s: %w", id, util.ErrNotFound)
	}
	return regen.CourseResult{CourseID: id, Sections: 3, Saved: 7}, nil
}

func (f *fakeRunner) RegenerateAll(ctx context.Context) (regen.BatchResult, error) {
	b := regen.BatchResult{RunID: "run-1"}
	for _, id := range f.courses {
		res, err := f.RegenerateCourse(ctx, id)
		b.Add(id, res, err)
	}
	return b, nil
}

func (f *fakeRunner) Prune(_ context.Context, days int) (int, error) {
	f.pruned = days
	return 2, nil
}

type fakeContent struct{}

func (fakeContent) AggregateFull(_ context.Context, id string) (string, error) {
	return "# Course " + id + "\n", nil
}

func buildWith(r *fakeRunner) BuildFunc {
	return func(context.Context, BuildOptions) (*Env, error) {
		return &Env{Runner: r, Content: fakeContent{}}, nil
	}
}

func execute(t *testing.T, build BuildFunc, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), build, args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRootCmd_Use(t *testing.T) {
	cmd := NewRootCommand(nil)
	assert.Equal(t, "regenerate", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("prune-days"))
	assert.NotNil(t, cmd.Flags().Lookup("summary-out"))
}

func TestExecute_SingleCourse(t *testing.T) {
	r := &fakeRunner{}
	dir := t.TempDir()
	contentPath := filepath.Join(dir, "c1.md")

	code, out, _ := execute(t, buildWith(r), "--course", "c1", "--content-out", contentPath)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Regenerating course c1...")
	assert.Contains(t, out, "7 chunks saved")

	b, err := os.ReadFile(contentPath)
	require.NoError(t, err)
	assert.Equal(t, "# Course c1\n", string(b))
}

func TestExecute_SingleCourseFailureExitsOne(t *testing.T) {
	r := &fakeRunner{failCourse: "c1"}
	code, _, errOut := execute(t, buildWith(r), "--course", "c1")
	require.Equal(t, ExitFailed, code)
	assert.Contains(t, errOut, "not found")
}

func TestExecute_AllWithFailuresExitsOne(t *testing.T) {
	r := &fakeRunner{failCourse: "c2", courses: []string{"c1", "c2", "c3"}}
	summary := filepath.Join(t.TempDir(), "summary.json")

	code, out, _ := execute(t, buildWith(r), "--all", "--prune-days", "30", "--summary-out", summary)
	require.Equal(t, ExitFailed, code)
	assert.Contains(t, out, "2 succeeded, 1 failed")
	assert.Contains(t, out, "c2: failed")
	assert.Equal(t, 30, r.pruned)

	raw, err := os.ReadFile(summary)
	require.NoError(t, err)
	var batch regen.BatchResult
	require.NoError(t, json.Unmarshal(raw, &batch))
	assert.Equal(t, 2, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailCount)
	assert.Len(t, batch.Courses, 3)
}

func TestExecute_AllSucceeded(t *testing.T) {
	r := &fakeRunner{courses: []string{"c1"}}
	code, _, _ := execute(t, buildWith(r), "--all")
	require.Equal(t, ExitOK, code)
	assert.Zero(t, r.pruned)
}

func TestExecute_UsageErrorsExitTwo(t *testing.T) {
	r := &fakeRunner{}
	cases := [][]string{
		{},
		{"--course", "c1", "--all"},
		{"--all", "--prune-days", "-1"},
		{"--all", "--content-out", "x.md"},
		{"--bogus"},
		{"extra"},
	}
	for _, args := range cases {
		code, _, _ := execute(t, buildWith(r), args...)
		assert.Equal(t, ExitConfig, code, "args %v", args)
	}
}

func TestExecute_MissingCredentialsExitTwo(t *testing.T) {
	build := func(context.Context, BuildOptions) (*Env, error) {
		return nil, fmt.Errorf("%w: openai", providers.ErrMissingCredentials)
	}
	code, _, errOut := execute(t, build, "--all")
	require.Equal(t, ExitConfig, code)
	assert.Contains(t, errOut, "missing provider credentials")
}

func TestExecute_StartupFailureExitsOne(t *testing.T) {
	build := func(context.Context, BuildOptions) (*Env, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	code, _, _ := execute(t, build, "--course", "c1")
	require.Equal(t, ExitFailed, code)
}

func TestExecute_PassesBuildOptions(t *testing.T) {
	var got BuildOptions
	build := func(_ context.Context, o BuildOptions) (*Env, error) {
		got = o
		return &Env{Runner: &fakeRunner{}}, nil
	}
	code, _, _ := execute(t, build, "--course", "c1", "-v", "--config", "coursesearch.yaml")
	require.Equal(t, ExitOK, code)
	assert.True(t, got.Verbose)
	assert.Equal(t, "coursesearch.yaml", got.ConfigFile)
}
