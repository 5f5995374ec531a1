// Package skills answers a small set of recognised intents without calling
// the language model.
package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent/config"
)

// Skill names, also accepted as forced-skill selectors.
const (
	Weather    = "weather"
	News       = "news"
	Joke       = "joke"
	Quote      = "quote"
	Dictionary = "dictionary"
	Time       = "time"
)

const (
	weatherFallback    = "Sorry, I couldn't fetch the weather right now."
	dictionaryFallback = "Sorry, I couldn't fetch the dictionary meaning right now."
	dictionaryPrompt   = "Please tell me which word you'd like me to define."
	timeLayout         = "Monday, 02 January 2006, 15:04:05"
)

var headlines = []string{
	"AI is transforming industries worldwide.",
	"SpaceX successfully launched another batch of satellites.",
	"Scientists discover a new exoplanet in the habitable zone.",
}

var jokes = []string{
	"Why did the computer go to the doctor? Because it caught a virus!",
	"Why don't robots ever get lost? Because they follow their GPS, the Giggle Positioning System.",
	"I told my AI to tell me a joke, but it just said 'I'm sorry, I don't have a sense of humor... yet.'",
}

var quotes = []string{
	"The best way to predict the future is to invent it. (Alan Kay)",
	"Do what you can, with what you have, where you are. (Theodore Roosevelt)",
	"In the middle of every difficulty lies opportunity. (Albert Einstein)",
}

// Result is a skill's answer.
type Result struct {
	Skill string
	Reply string
}

// Matcher resolves transcripts to skills in a fixed priority order:
// weather, news, joke, quote, dictionary, time.
type Matcher struct {
	client        *http.Client
	weatherURL    string
	weatherCity   string
	dictionaryURL string
	log           zerolog.Logger

	now  func() time.Time
	intn func(n int) int
}

// NewMatcher creates a Matcher. Outbound calls are bounded by cfg.HTTPTimeout.
func NewMatcher(cfg config.SkillsConfig, logger zerolog.Logger) *Matcher {
	return &Matcher{
		client:        &http.Client{Timeout: cfg.HTTPTimeout},
		weatherURL:    cfg.WeatherURL,
		weatherCity:   cfg.WeatherCity,
		dictionaryURL: cfg.DictionaryURL,
		log:           logger,
		now:           time.Now,
		intn:          rand.IntN,
	}
}

// Match returns the reply of the first skill selected by forced or by a
// keyword in transcript. ok is false when no skill applies.
func (m *Matcher) Match(ctx context.Context, transcript, forced string) (res Result, ok bool) {
	text := strings.ToLower(transcript)
	wants := func(skill string, keywords ...string) bool {
		if forced == skill {
			return true
		}
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false
	}

	switch {
	case wants(Weather, "weather"):
		return Result{Skill: Weather, Reply: m.weather(ctx)}, true
	case wants(News, "news"):
		return Result{Skill: News, Reply: "Here are the latest headlines: " + strings.Join(headlines, " ")}, true
	case wants(Joke, "joke") || forced == "jokes":
		return Result{Skill: Joke, Reply: jokes[m.intn(len(jokes))]}, true
	case wants(Quote, "quote"):
		return Result{Skill: Quote, Reply: quotes[m.intn(len(quotes))]}, true
	case wants(Dictionary, "define"):
		return Result{Skill: Dictionary, Reply: m.define(ctx, transcript)}, true
	case wants(Time, "time", "date"):
		return Result{Skill: Time, Reply: "The current date and time is " + m.now().Format(timeLayout) + "."}, true
	}
	return Result{}, false
}

type weatherResponse struct {
	CurrentWeather struct {
		Temperature *float64 `json:"temperature"`
		WindSpeed   *float64 `json:"windspeed"`
	} `json:"current_weather"`
}

func (m *Matcher) weather(ctx context.Context) string {
	var body weatherResponse
	if err := m.getJSON(ctx, m.weatherURL, &body); err != nil {
		m.log.Warn().Err(err).Msg("Weather lookup failed")
		return weatherFallback
	}

	cw := body.CurrentWeather
	if cw.Temperature == nil {
		m.log.Warn().Msg("Weather response missing temperature")
		return weatherFallback
	}
	wind := "unknown speed"
	if cw.WindSpeed != nil {
		wind = formatFloat(*cw.WindSpeed) + " km/h"
	}
	return fmt.Sprintf("The current weather in %s is %s°C with winds at %s.",
		m.weatherCity, formatFloat(*cw.Temperature), wind)
}

type dictionaryEntry struct {
	Meanings []struct {
		Definitions []struct {
			Definition string `json:"definition"`
		} `json:"definitions"`
	} `json:"meanings"`
}

// define looks up the last word of the transcript.
func (m *Matcher) define(ctx context.Context, transcript string) string {
	words := strings.Fields(transcript)
	if len(words) < 2 {
		return dictionaryPrompt
	}
	term := strings.TrimFunc(words[len(words)-1], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
	if term == "" {
		return dictionaryPrompt
	}

	var entries []dictionaryEntry
	err := m.getJSON(ctx, m.dictionaryURL+url.PathEscape(term), &entries)
	if err != nil {
		var se statusError
		if errors.As(err, &se) {
			return fmt.Sprintf("Sorry, I couldn't find a definition for '%s'.", term)
		}
		m.log.Warn().Err(err).Str("term", term).Msg("Dictionary lookup failed")
		return dictionaryFallback
	}
	if len(entries) == 0 || len(entries[0].Meanings) == 0 || len(entries[0].Meanings[0].Definitions) == 0 {
		return fmt.Sprintf("Sorry, I couldn't find a definition for '%s'.", term)
	}
	return fmt.Sprintf("The definition of '%s' is: %s", term, entries[0].Meanings[0].Definitions[0].Definition)
}

type statusError struct {
	code int
}

func (e statusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.code)
}

func (m *Matcher) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError{code: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
