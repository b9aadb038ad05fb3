package main

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type BotConfig struct {
	Name     string `json:"name"`
	PlayerID string `json:"playerId,omitempty"`
	Strategy string `json:"strategy"`
}

type BotState struct {
	Config       BotConfig
	PlayerID     string
	ActionsTaken int
	Purchases    int
}

var log = logrus.New()

func main() {
	if !botsEnabled() {
		log.Info("bots disabled")
		return
	}

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("API_BASE_URL")), "/")
	if baseURL == "" {
		log.Fatal("API_BASE_URL is required")
	}

	bots, err := loadBots()
	if err != nil {
		log.WithError(err).Fatal("failed to load bots")
	}
	if len(bots) == 0 {
		log.Info("no bots configured")
		return
	}

	minDelay := parseEnvInt("BOT_RATE_LIMIT_MIN_MS", 3000)
	maxDelay := parseEnvInt("BOT_RATE_LIMIT_MAX_MS", 12000)
	actionProbability := parseEnvFloat("BOT_ACTION_PROBABILITY", 1.0)
	rounds := parseEnvInt("BOT_ROUNDS", 1)

	states := make([]*BotState, 0, len(bots))
	for _, bot := range bots {
		states = append(states, &BotState{Config: bot, PlayerID: bot.PlayerID})
	}

	client := newGameClient(baseURL, &http.Client{Timeout: 15 * time.Second})

	for round := 0; round < rounds; round++ {
		shuffle(states)
		for _, bot := range states {
			if rand.Float64() > actionProbability {
				continue
			}
			runBot(client, bot)
			sleepJitter(minDelay, maxDelay)
		}
	}
}

// runBot plays one turn: mine, collect, then buy at most one upgrade.
func runBot(client *gameClient, bot *BotState) {
	entry := log.WithFields(logrus.Fields{"bot": bot.Config.Name, "strategy": bot.Config.Strategy})

	if bot.PlayerID == "" {
		id, err := client.Register()
		if err != nil {
			entry.WithError(err).Error("register failed")
			return
		}
		bot.PlayerID = id
		entry.WithField("playerId", id).Info("registered")
	}
	entry = entry.WithField("playerId", bot.PlayerID)

	if _, err := client.Mine(bot.PlayerID); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == "COOLDOWN_ACTIVE" {
			entry.WithField("retryAfterMs", apiErr.RetryAfterMs).Debug("mine on cooldown")
		} else {
			entry.WithError(err).Error("mine failed")
			return
		}
	} else {
		bot.ActionsTaken++
	}

	collected, err := client.Collect(bot.PlayerID)
	if err != nil {
		entry.WithError(err).Error("collect failed")
		return
	}
	if collected.Collected > 0 {
		entry.WithField("collected", collected.Collected).Info("collected idle coins")
	}

	upgrade, ok := chooseUpgrade(bot.Config.Strategy, collected.State)
	if !ok {
		entry.WithField("coins", collected.State.Coins).Info("noop")
		return
	}
	st, err := client.Purchase(bot.PlayerID, upgrade)
	if err != nil {
		entry.WithError(err).WithField("upgrade", upgrade).Warn("purchase failed")
		return
	}
	bot.Purchases++
	entry.WithFields(logrus.Fields{
		"upgrade": upgrade,
		"coins":   st.Coins,
	}).Info("bought upgrade")
}

func botsEnabled() bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv("BOTS_ENABLED")))
	if value == "" {
		return true
	}
	return value == "true" || value == "1" || value == "yes" || value == "on"
}

func loadBots() ([]BotConfig, error) {
	if raw := strings.TrimSpace(os.Getenv("BOT_LIST")); raw != "" {
		var bots []BotConfig
		if err := json.Unmarshal([]byte(raw), &bots); err != nil {
			return nil, err
		}
		return bots, nil
	}
	if raw := strings.TrimSpace(os.Getenv("BOT_LIST_PATH")); raw != "" {
		path := filepath.Clean(raw)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var bots []BotConfig
		if err := json.Unmarshal(data, &bots); err != nil {
			return nil, err
		}
		return bots, nil
	}
	return nil, nil
}

func sleepJitter(minMs int, maxMs int) {
	if minMs <= 0 {
		return
	}
	if maxMs < minMs {
		maxMs = minMs
	}
	jitter := rand.Intn(maxMs-minMs+1) + minMs
	time.Sleep(time.Duration(jitter) * time.Millisecond)
}

func shuffle(states []*BotState) {
	rand.Shuffle(len(states), func(i, j int) {
		states[i], states[j] = states[j], states[i]
	})
}

func parseEnvInt(key string, fallback int) int {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvFloat(key string, fallback float64) float64 {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
