package module_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taforever/ircd-toxicity/pkg/infra/logger"
	"github.com/taforever/ircd-toxicity/pkg/module"
	"github.com/taforever/ircd-toxicity/pkg/mtag"
)

type fakeHost struct {
	mu       sync.Mutex
	handlers []mtag.Handler
	hooks    []module.PreChannelMessageHook
	tagErr   error
	hookErr  error
}

func (h *fakeHost) RegisterTagHandler(handler mtag.Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tagErr != nil {
		return h.tagErr
	}
	h.handlers = append(h.handlers, handler)
	return nil
}

func (h *fakeHost) RegisterPreChannelMessageHook(hook module.PreChannelMessageHook) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hookErr != nil {
		return h.hookErr
	}
	h.hooks = append(h.hooks, hook)
	return nil
}

// dispatch delivers a channel message the way the server would.
func (h *fakeHost) dispatch(sender *module.Client, tags *mtag.List, text string, sendType module.SendType) module.HookResult {
	for _, hook := range h.hooks {
		if hook(context.Background(), sender, &module.Channel{Name: "#general"}, tags, text, sendType) == module.Veto {
			return module.Veto
		}
	}
	return module.Continue
}

type logRecord struct {
	level   logrus.Level
	event   string
	message string
}

type sinkHost struct {
	fakeHost
	records []logRecord
}

func (h *sinkHost) Log(level logrus.Level, subsystem, event, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, logRecord{level: level, event: event, message: subsystem + ": " + message})
}

func keyLookup(key string) func(string) (string, bool) {
	return func(string) (string, bool) { return key, key != "" }
}

func perspectiveStub(t *testing.T, value string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"attributeScores":{"TOXICITY":{"summaryScore":{"value":` + value + `}}}}`)) //nolint:errcheck
	}))
	t.Cleanup(server.Close)
	return server
}

func newModule(t *testing.T, host module.Host, endpoint, key string) *module.Module {
	t.Helper()
	m := module.New(host, module.WithLogger(logger.NewNopLogger()), module.WithEnvLookup(keyLookup(key)))
	require.NoError(t, m.ValidateConfig(map[string]any{
		"perspective": map[string]any{"endpoint": endpoint + "/v1alpha1/comments:analyze", "timeout": "1s"},
	}))
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.Load(context.Background()))
	t.Cleanup(func() { _ = m.Unload(context.Background()) })
	return m
}

func TestModule_EndToEnd(t *testing.T) {
	var calls atomic.Int32
	server := perspectiveStub(t, "0.07", &calls)
	host := &fakeHost{}
	newModule(t, host, server.URL, "valid-key")

	tags := mtag.NewList()
	result := host.dispatch(&module.Client{Name: "alice", Kind: module.KindUser}, tags, "hello", module.SendTypePrivmsg)

	assert.Equal(t, module.Continue, result)
	assert.Equal(t, []mtag.MessageTag{{Name: mtag.ToxicityTag, Value: "0.07"}}, tags.Tags())
	assert.EqualValues(t, 1, calls.Load())
}

func TestModule_Init(t *testing.T) {
	t.Run("Registers the tag without a capability and the hook once", func(t *testing.T) {
		host := &fakeHost{}
		m := module.New(host)

		require.NoError(t, m.Init(context.Background()))
		require.NoError(t, m.Init(context.Background()))
		defer func() { _ = m.Unload(context.Background()) }()

		assert.True(t, m.Ready())
		assert.Equal(t, []mtag.Handler{{Name: "taforever.com/toxicity", NoCapNeeded: true}}, host.handlers)
		assert.Len(t, host.hooks, 1)
	})

	t.Run("Tag registration failure", func(t *testing.T) {
		host := &fakeHost{tagErr: errors.New("duplicate tag")}
		m := module.New(host)

		err := m.Init(context.Background())

		assert.ErrorContains(t, err, "duplicate tag")
		assert.False(t, m.Ready())
		assert.NoError(t, m.Load(context.Background()))

		tags := mtag.NewList()
		require.Len(t, host.hooks, 1)
		assert.Equal(t, module.Continue, host.dispatch(&module.Client{Name: "alice"}, tags, "hello", module.SendTypePrivmsg))
		assert.Zero(t, tags.Len())
	})

	t.Run("Retry after a failure registers everything once", func(t *testing.T) {
		host := &fakeHost{tagErr: errors.New("duplicate tag")}
		m := module.New(host, module.WithLogger(logger.NewNopLogger()))

		require.Error(t, m.Init(context.Background()))
		host.mu.Lock()
		host.tagErr = nil
		host.mu.Unlock()
		require.NoError(t, m.Init(context.Background()))
		require.NoError(t, m.Init(context.Background()))
		defer func() { _ = m.Unload(context.Background()) }()

		assert.True(t, m.Ready())
		assert.Len(t, host.handlers, 1)
		assert.Len(t, host.hooks, 1)
	})

	t.Run("Failed Init leaves no host log hook", func(t *testing.T) {
		host := &sinkHost{fakeHost: fakeHost{hookErr: errors.New("no such hook")}}
		l := logger.NewNopLogger()
		m := module.New(host, module.WithLogger(l))

		require.Error(t, m.Init(context.Background()))
		l.Error("after failed init")

		assert.Empty(t, l.Hooks[logrus.ErrorLevel])
		assert.Empty(t, host.records)
	})

	t.Run("Hook registration failure", func(t *testing.T) {
		host := &fakeHost{hookErr: errors.New("no such hook")}
		m := module.New(host)

		assert.ErrorContains(t, m.Init(context.Background()), "no such hook")
		assert.False(t, m.Ready())
		assert.NoError(t, m.Unload(context.Background()))
	})

	t.Run("Nil host", func(t *testing.T) {
		assert.ErrorIs(t, module.New(nil).Init(context.Background()), module.ErrNilHost)
	})

	t.Run("Load before Init", func(t *testing.T) {
		m := module.New(&fakeHost{})
		assert.NoError(t, m.Load(context.Background()))
		assert.False(t, m.Ready())
		assert.Equal(t, module.Continue, m.PreChannelMessage(context.Background(), &module.Client{Name: "alice"}, nil, mtag.NewList(), "hello", module.SendTypePrivmsg))
	})
}

func TestModule_ValidateConfig(t *testing.T) {
	m := module.New(&fakeHost{})

	assert.NoError(t, m.ValidateConfig(map[string]any{
		"perspective": map[string]any{"timeout": "500ms", "languages": []any{"en"}},
		"log":         map[string]any{"level": "debug"},
	}))
	assert.Error(t, m.ValidateConfig(map[string]any{"perspective": map[string]any{"timeout": "soon"}}))
	assert.Error(t, m.ValidateConfig(map[string]any{"unknown": true}))
}

func TestModule_PreChannelMessage(t *testing.T) {
	var calls atomic.Int32
	server := perspectiveStub(t, "0.81", &calls)
	host := &fakeHost{}
	m := newModule(t, host, server.URL, "valid-key")

	user := &module.Client{Name: "alice", Kind: module.KindUser}
	channel := &module.Channel{Name: "#general"}

	tests := []struct {
		name     string
		sender   *module.Client
		tags     *mtag.List
		text     string
		sendType module.SendType
		wantTag  bool
	}{
		{name: "user privmsg", sender: user, tags: mtag.NewList(), text: "hi", sendType: module.SendTypePrivmsg, wantTag: true},
		{name: "user notice", sender: user, tags: mtag.NewList(), text: "hi", sendType: module.SendTypeNotice, wantTag: true},
		{name: "tagmsg has no text", sender: user, tags: mtag.NewList(), text: "", sendType: module.SendTypeTagmsg},
		{name: "server sender", sender: &module.Client{Name: "irc.example.net", Kind: module.KindServer}, tags: mtag.NewList(), text: "hi"},
		{name: "service sender", sender: &module.Client{Name: "ChanServ", Kind: module.KindService}, tags: mtag.NewList(), text: "hi"},
		{name: "nil sender", sender: nil, tags: mtag.NewList(), text: "hi"},
		{name: "nil tags", sender: user, tags: nil, text: "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := calls.Load()

			result := m.PreChannelMessage(context.Background(), tt.sender, channel, tt.tags, tt.text, tt.sendType)

			assert.Equal(t, module.Continue, result)
			if tt.wantTag {
				assert.Equal(t, "0.81", tt.tags.Find(mtag.ToxicityTag).Value)
				assert.Equal(t, before+1, calls.Load())
			} else {
				assert.Nil(t, tt.tags.Find(mtag.ToxicityTag))
				assert.Equal(t, before, calls.Load())
			}
		})
	}
}

func TestModule_NeverVetoes(t *testing.T) {
	t.Run("Missing key", func(t *testing.T) {
		var calls atomic.Int32
		server := perspectiveStub(t, "0.5", &calls)
		host := &fakeHost{}
		newModule(t, host, server.URL, "")

		tags := mtag.NewList()
		result := host.dispatch(&module.Client{Name: "alice"}, tags, "hello", module.SendTypePrivmsg)

		assert.Equal(t, module.Continue, result)
		assert.Zero(t, tags.Len())
		assert.Zero(t, calls.Load())
	})

	t.Run("Backend down", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		host := &fakeHost{}
		newModule(t, host, server.URL, "valid-key")

		tags := mtag.NewList()
		result := host.dispatch(&module.Client{Name: "alice"}, tags, "hello", module.SendTypePrivmsg)

		assert.Equal(t, module.Continue, result)
		assert.Zero(t, tags.Len())
	})
}

func TestModule_Unload(t *testing.T) {
	var calls atomic.Int32
	server := perspectiveStub(t, "0.3", &calls)
	host := &fakeHost{}
	m := newModule(t, host, server.URL, "valid-key")

	require.NoError(t, m.Unload(context.Background()))
	require.NoError(t, m.Unload(context.Background()))

	tags := mtag.NewList()
	result := host.dispatch(&module.Client{Name: "alice"}, tags, "hello", module.SendTypePrivmsg)

	assert.Equal(t, module.Continue, result)
	assert.Zero(t, tags.Len())
	assert.Zero(t, calls.Load())
}

func TestModule_ConcurrentMessages(t *testing.T) {
	var calls atomic.Int32
	server := perspectiveStub(t, "0.25", &calls)
	host := &fakeHost{}
	newModule(t, host, server.URL, "valid-key")

	const n = 32
	lists := make([]*mtag.List, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		lists[i] = mtag.NewList()
		wg.Add(1)
		go func(tags *mtag.List) {
			defer wg.Done()
			host.dispatch(&module.Client{Name: "alice"}, tags, "hello", module.SendTypePrivmsg)
		}(lists[i])
	}
	wg.Wait()

	for _, tags := range lists {
		assert.Equal(t, "0.25", tags.Find(mtag.ToxicityTag).Value)
	}
	assert.EqualValues(t, n, calls.Load())
}

func TestModule_ForwardsWarningsToHost(t *testing.T) {
	host := &sinkHost{}
	m := module.New(host, module.WithLogger(logger.NewNopLogger()), module.WithEnvLookup(keyLookup("")))
	require.NoError(t, m.Init(context.Background()))
	defer func() { _ = m.Unload(context.Background()) }()

	m.PreChannelMessage(context.Background(), &module.Client{Name: "alice"}, nil, mtag.NewList(), "hello", module.SendTypePrivmsg)

	require.Len(t, host.records, 1)
	assert.Equal(t, logrus.ErrorLevel, host.records[0].level)
	assert.Equal(t, "PERSPECTIVE_API_KEY_MISSING", host.records[0].event)
	assert.Equal(t, "third/perspective_api: No Perspective API key found", host.records[0].message)
}

func TestModule_DefaultLoggerHonorsLogSettings(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "toxicity.log")
	host := &fakeHost{}
	m := module.New(host, module.WithEnvLookup(keyLookup("")))
	require.NoError(t, m.ValidateConfig(map[string]any{
		"perspective": map[string]any{"endpoint": "http://127.0.0.1:1/v1alpha1/comments:analyze", "timeout": "1s"},
		"log":         map[string]any{"level": "warn", "file": logFile, "buffer_size": 1024},
	}))
	require.NoError(t, m.Init(context.Background()))

	tags := mtag.NewList()
	host.dispatch(&module.Client{Name: "alice"}, tags, "hello", module.SendTypePrivmsg)
	require.NoError(t, m.Unload(context.Background()))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"PERSPECTIVE_API_KEY_MISSING"`)
	assert.NotContains(t, string(data), "toxicity module initialized")
	assert.Zero(t, tags.Len())
}
