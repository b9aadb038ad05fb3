package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type upgradeLevels struct {
	AutoMiner  int `json:"autoMiner"`
	SuperClick int `json:"superClick"`
}

type stateView struct {
	UserID              string            `json:"userId"`
	Coins               int64             `json:"coins"`
	Upgrades            upgradeLevels     `json:"upgrades"`
	LastActivityAt      time.Time         `json:"lastActivityAt"`
	LastClickAt         *time.Time        `json:"lastClickAt"`
	NextUpgradeCost     map[string]*int64 `json:"nextUpgradeCost"`
	CooldownRemainingMs int64             `json:"cooldownRemainingMs"`
}

type registerResponse struct {
	OK     bool   `json:"ok"`
	UserID string `json:"userId"`
}

type stateResponse struct {
	OK    bool      `json:"ok"`
	State stateView `json:"state"`
}

type collectResponse struct {
	OK        bool      `json:"ok"`
	Coins     int64     `json:"coins"`
	Collected int64     `json:"collected"`
	State     stateView `json:"state"`
}

// apiError is a non-2xx response from the game server.
type apiError struct {
	Status       int    `json:"-"`
	OK           bool   `json:"ok"`
	Code         string `json:"error"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
}

type gameClient struct {
	baseURL string
	http    *http.Client
}

func newGameClient(baseURL string, httpClient *http.Client) *gameClient {
	return &gameClient{baseURL: baseURL, http: httpClient}
}

func (c *gameClient) Register() (string, error) {
	var res registerResponse
	if err := c.do(http.MethodPost, "/register", "", nil, &res); err != nil {
		return "", err
	}
	return res.UserID, nil
}

func (c *gameClient) State(playerID string) (stateView, error) {
	var res stateResponse
	err := c.do(http.MethodGet, "/state", playerID, nil, &res)
	return res.State, err
}

func (c *gameClient) Mine(playerID string) (stateView, error) {
	var res stateResponse
	err := c.do(http.MethodPost, "/mine", playerID, nil, &res)
	return res.State, err
}

func (c *gameClient) Collect(playerID string) (collectResponse, error) {
	var res collectResponse
	err := c.do(http.MethodPost, "/collect", playerID, nil, &res)
	return res, err
}

func (c *gameClient) Purchase(playerID string, upgrade string) (stateView, error) {
	var res stateResponse
	err := c.do(http.MethodPost, "/purchase", playerID, map[string]string{"upgrade": upgrade}, &res)
	return res.State, err
}

func (c *gameClient) do(method, path, playerID string, payload interface{}, target interface{}) error {
	endpoint := c.baseURL + path
	if playerID != "" {
		endpoint += "?playerId=" + url.QueryEscape(playerID)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: res.StatusCode}
		if err := decodeJSON(res.Body, apiErr); err != nil {
			apiErr.Code = http.StatusText(res.StatusCode)
		}
		return apiErr
	}
	return decodeJSON(res.Body, target)
}

func decodeJSON(reader io.Reader, target interface{}) error {
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
