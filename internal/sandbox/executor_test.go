package sandbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlmrepl/internal/capability"
	"rlmrepl/internal/config"
	"rlmrepl/internal/conversation"
)

func newExecutor(t *testing.T, mutate func(*config.REPLConfig)) (*Executor, *capability.Registry, *conversation.Store) {
	t.Helper()
	cfg := config.DefaultREPLConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	store := conversation.NewStore()
	for i := 0; i < 6; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		store.Add(role, fmt.Sprintf("message %d about quantum computing", i), nil)
	}
	reg := capability.NewRegistry(store, cfg)
	exec, err := NewExecutor(reg, cfg, nil)
	require.NoError(t, err)
	return exec, reg, store
}

func TestExecute_Success(t *testing.T) {
	exec, reg, _ := newExecutor(t, nil)
	ctx := context.Background()

	res := exec.Execute(ctx, `result = count_messages()`)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, 6, res.Value)

	res = exec.Execute(ctx, `result = filter_by_role("user")`)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	msgs, ok := res.Value.([]conversation.Message)
	require.True(t, ok, "%T", res.Value)
	assert.Len(t, msgs, 3)

	res = exec.Execute(ctx, `result = conversation.Len()`)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, 6, res.Value)

	res = exec.Execute(ctx, `result = analyze_subsection(slice_messages(0, 2)).Depth`)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Value)
	assert.Equal(t, 0, reg.Recursion().Depth())
}

func TestExecute_NoResult(t *testing.T) {
	exec, _, _ := newExecutor(t, nil)
	res := exec.Execute(context.Background(), `n := count_messages()
_ = n`)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Nil(t, res.Value)
}

func TestExecute_Output(t *testing.T) {
	exec, _, _ := newExecutor(t, func(c *config.REPLConfig) { c.MaxOutputBytes = 8 })

	res := exec.Execute(context.Background(), `println("hello world, this is long")
result = 1`)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, "hello wo", res.Output)
	assert.True(t, res.OutputTruncated)
}

func TestExecute_SecurityViolation(t *testing.T) {
	exec, _, store := newExecutor(t, nil)

	for _, code := range []string{`import "os"`, `result = os.ReadDir(".")`} {
		res := exec.Execute(context.Background(), code)
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, KindSecurity, res.ErrorKind)
		assert.NotEmpty(t, res.Violations)
		assert.Contains(t, res.Error, "security violation")
	}
	assert.Equal(t, 6, store.Len())
}

func TestExecute_ErrorKinds(t *testing.T) {
	exec, _, _ := newExecutor(t, nil)
	tests := []struct {
		name     string
		code     string
		kind     string
		contains string
	}{
		{"compile", `result = undefined_name`, KindCompile, "undefined"},
		{"runtime panic", `panic("boom")`, KindRuntime, "boom"},
		{"nil map", `var m map[string]int
m["a"] = 1`, KindRuntime, "panic"},
		{"capability", `result = grep("([")`, KindCapability, "invalid regex"},
		{"conversion", `result = to_int("seven")`, KindCapability, "to_int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := exec.Execute(context.Background(), tt.code)
			assert.Equal(t, StatusError, res.Status)
			assert.Equal(t, tt.kind, res.ErrorKind, res.Error)
			assert.Contains(t, res.Error, tt.contains)
			assert.Nil(t, res.Value)
		})
	}
}

func TestExecute_UnboundedRecursionRejected(t *testing.T) {
	exec, _, _ := newExecutor(t, nil)

	res := exec.Execute(context.Background(), `var f func(n int) int
f = func(n int) int { return f(n+1) + 1 }
result = f(0)`)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, KindSecurity, res.ErrorKind)
	assert.Contains(t, res.Violations, Violation{Kind: "closure_call", Subject: "f"})

	res = exec.Execute(context.Background(), `main()`)
	assert.Equal(t, KindSecurity, res.ErrorKind)
}

func TestExecute_ClosuresOverCapabilities(t *testing.T) {
	exec, _, _ := newExecutor(t, nil)

	res := exec.Execute(context.Background(), `byRole := func(role string) int { return count_messages(role) }
result = byRole("user") + byRole("assistant")`)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, 6, res.Value)
}

func TestExecute_CannotMutateNestedMetadata(t *testing.T) {
	cfg := config.DefaultREPLConfig()
	store := conversation.NewStore()
	store.Add(conversation.RoleUser, "hello", map[string]interface{}{
		"source": map[string]interface{}{"name": "web"},
		"tags":   []interface{}{"draft"},
	})
	exec, err := NewExecutor(capability.NewRegistry(store, cfg), cfg, nil)
	require.NoError(t, err)

	scripts := []string{
		`src := get_message(0).Metadata["source"].(map[string]interface{})
src["name"] = "tampered"
tags := get_message(0).Metadata["tags"].([]interface{})
tags[0] = "tampered"`,
		`msgs := conversation.Messages()
msgs[0].Metadata["source"].(map[string]interface{})["name"] = "tampered"`,
		`msgs := slice_messages(0, 1)
msgs[0].Metadata["tags"].([]interface{})[0] = "tampered"`,
	}
	for _, code := range scripts {
		res := exec.Execute(context.Background(), code)
		require.Equal(t, StatusSuccess, res.Status, res.Error)
	}

	msg, ok := store.Message(0)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"name": "web"}, msg.Metadata["source"])
	assert.Equal(t, []interface{}{"draft"}, msg.Metadata["tags"])
}

func TestExecute_Timeout(t *testing.T) {
	exec, _, _ := newExecutor(t, func(c *config.REPLConfig) { c.ExecutionTimeout = "100ms" })

	start := time.Now()
	res := exec.Execute(context.Background(), `n := 0
for {
	n++
}`)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, KindTimeout, res.ErrorKind)
	assert.Less(t, time.Since(start), 5*time.Second)

	res = exec.Execute(context.Background(), `result = count_messages()`)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestExecute_CallerDeadline(t *testing.T) {
	exec, _, _ := newExecutor(t, nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res := exec.Execute(ctx, `result = count_messages()`)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, KindTimeout, res.ErrorKind)
}

func TestExecute_TruncatesResult(t *testing.T) {
	exec, _, _ := newExecutor(t, func(c *config.REPLConfig) { c.MaxResultItems = 4 })

	res := exec.Execute(context.Background(), `result = slice_messages(0, 6)`)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Value, 4)
}

func TestExecute_NoStateBetweenCalls(t *testing.T) {
	exec, _, _ := newExecutor(t, nil)

	res := exec.Execute(context.Background(), `leftover := 5
result = leftover`)
	require.Equal(t, StatusSuccess, res.Status, res.Error)

	res = exec.Execute(context.Background(), `result = leftover`)
	assert.Equal(t, KindCompile, res.ErrorKind)
}

func TestExecute_Primitives(t *testing.T) {
	exec, _, _ := newExecutor(t, nil)
	tests := []struct {
		code string
		want interface{}
	}{
		{`result = sum([]int{1, 2, 3})`, 6},
		{`result = str(42)`, "42"},
		{`result = maximum(3, 9, 4)`, 9},
		{`result = len(get_topics(3))`, 3},
		{`result = get_message(99) == nil`, true},
	}
	for _, tt := range tests {
		res := exec.Execute(context.Background(), tt.code)
		require.Equal(t, StatusSuccess, res.Status, "%s: %s", tt.code, res.Error)
		assert.Equal(t, tt.want, res.Value, tt.code)
	}
}

func TestScriptPositions(t *testing.T) {
	msg := fmt.Sprintf("%d:9: undefined: foo", wrapperLines+2)
	assert.Equal(t, "line 2:9: undefined: foo", scriptPositions(msg))
	assert.Equal(t, "1:1: header problem", scriptPositions("1:1: header problem"))
}

func TestWrapperDeclaresEveryCapability(t *testing.T) {
	for _, c := range capability.Capabilities() {
		assert.Contains(t, wrapper, fmt.Sprintf("\t%s = rlm.%s\n", c.Name, c.Symbol))
	}
	assert.Contains(t, wrapper, "conversation = rlm.View()")
}
