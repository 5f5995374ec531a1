package skills

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnivade/voiceagent/config"
)

func newTestMatcher(t *testing.T, weather, dictionary http.HandlerFunc) *Matcher {
	t.Helper()

	cfg := config.SkillsConfig{
		WeatherCity: "Delhi",
		HTTPTimeout: 2 * time.Second,
	}
	if weather != nil {
		srv := httptest.NewServer(weather)
		t.Cleanup(srv.Close)
		cfg.WeatherURL = srv.URL
	}
	if dictionary != nil {
		srv := httptest.NewServer(dictionary)
		t.Cleanup(srv.Close)
		cfg.DictionaryURL = srv.URL + "/"
	}

	m := NewMatcher(cfg, zerolog.Nop())
	m.now = func() time.Time { return time.Date(2025, time.March, 3, 14, 5, 9, 0, time.UTC) }
	m.intn = func(int) int { return 0 }
	return m
}

func weatherOK(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte(`{"current_weather":{"temperature":31.2,"windspeed":10.5}}`))
}

func TestMatch_Priority(t *testing.T) {
	m := newTestMatcher(t, weatherOK, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		transcript string
		forced     string
		skill      string
	}{
		{"weather beats joke", "tell me a joke about the weather", "", Weather},
		{"news keyword", "any NEWS today?", "", News},
		{"joke keyword", "Tell me a joke", "", Joke},
		{"forced jokes", "make me laugh", "jokes", Joke},
		{"quote keyword", "give me a quote", "", Quote},
		{"date keyword", "what's the date", "", Time},
		{"forced time", "hello there", Time, Time},
		{"forced news loses to weather keyword", "weather please", News, Weather},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := m.Match(ctx, tt.transcript, tt.forced)
			require.True(t, ok)
			assert.Equal(t, tt.skill, res.Skill)
		})
	}
}

func TestMatch_NoSkill(t *testing.T) {
	m := newTestMatcher(t, nil, nil)
	_, ok := m.Match(context.Background(), "how are you doing", "none")
	assert.False(t, ok)
}

func TestMatch_FixedReplies(t *testing.T) {
	m := newTestMatcher(t, nil, nil)
	ctx := context.Background()

	res, _ := m.Match(ctx, "what time is it", "")
	assert.Equal(t, "The current date and time is Monday, 03 March 2025, 14:05:09.", res.Reply)

	res, _ = m.Match(ctx, "news", "")
	assert.True(t, strings.HasPrefix(res.Reply, "Here are the latest headlines: "))
	assert.Contains(t, res.Reply, headlines[2])

	res, _ = m.Match(ctx, "joke", "")
	assert.Equal(t, jokes[0], res.Reply)

	res, _ = m.Match(ctx, "quote", "")
	assert.Equal(t, quotes[0], res.Reply)
}

func TestWeather(t *testing.T) {
	ctx := context.Background()

	m := newTestMatcher(t, weatherOK, nil)
	res, _ := m.Match(ctx, "how's the weather", "")
	assert.Equal(t, "The current weather in Delhi is 31.2°C with winds at 10.5 km/h.", res.Reply)

	m = newTestMatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"current_weather":{}}`))
	}, nil)
	res, _ = m.Match(ctx, "weather", "")
	assert.Equal(t, weatherFallback, res.Reply)

	m = newTestMatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, nil)
	res, _ = m.Match(ctx, "weather", "")
	assert.Equal(t, weatherFallback, res.Reply)
}

func TestDictionary(t *testing.T) {
	ctx := context.Background()
	var gotPath string
	m := newTestMatcher(t, nil, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if strings.HasSuffix(r.URL.Path, "/serendipity") {
			w.Write([]byte(`[{"meanings":[{"definitions":[{"definition":"Luck in finding good things."}]}]}]`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	res, ok := m.Match(ctx, "define serendipity.", "")
	require.True(t, ok)
	assert.Equal(t, Dictionary, res.Skill)
	assert.Equal(t, "/serendipity", gotPath)
	assert.Equal(t, "The definition of 'serendipity' is: Luck in finding good things.", res.Reply)

	res, _ = m.Match(ctx, "please define flibbertigibbet", "")
	assert.Equal(t, "Sorry, I couldn't find a definition for 'flibbertigibbet'.", res.Reply)

	res, _ = m.Match(ctx, "define", "")
	assert.Equal(t, dictionaryPrompt, res.Reply)
}

func TestDictionary_FetchFailure(t *testing.T) {
	m := newTestMatcher(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`))
	})
	res, _ := m.Match(context.Background(), "what does ephemeral mean", Dictionary)
	assert.Equal(t, dictionaryFallback, res.Reply)
}
