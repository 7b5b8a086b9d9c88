package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultBaseURL = "https://api.replicate.com/v1"

	// stability-ai/stable-diffusion, pinned so output stays consistent.
	imageModelVersion = "db21e45d3f7023abc2a46ee38a23973f6dce16bb082a930b0c49861f96d1e5bf"
)

type Client struct {
	baseURL    string
	apiToken   string
	HTTPClient *http.Client
}

func NewClient(apiToken string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiToken:   apiToken,
		HTTPClient: http.DefaultClient,
	}
}

type predictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

/*
The shape changes somewhat depending on Status:
If Status == "succeeded", Output holds the generated image URLs.
If Status == "failed" or "canceled", Error describes why and Output is empty.
Other statuses mean the prediction is still running server-side.
*/
type predictionResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// GenerateImage runs the image model synchronously (Prefer: wait) and
// returns the URL of the generated image.
func (c Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(predictionRequest{
		Version: imageModelVersion,
		Input: map[string]any{
			"prompt":              prompt,
			"negative_prompt":     "",
			"width":               768,
			"height":              768,
			"num_outputs":         1,
			"scheduler":           "K_EULER",
			"num_inference_steps": 50,
			"guidance_scale":      7.5,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/predictions", c.baseURL), bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Prefer", "wait")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var prediction predictionResponse
	if err = json.Unmarshal(respBody, &prediction); err != nil {
		return "", err
	}
	if prediction.Status != "succeeded" {
		return "", fmt.Errorf("prediction %s ended %s: %s", prediction.ID, prediction.Status, prediction.Error)
	}
	if len(prediction.Output) == 0 {
		return "", fmt.Errorf("prediction %s succeeded but returned no output", prediction.ID)
	}
	return prediction.Output[0], nil
}

// Download fetches generated image bytes so they can be re-uploaded as
// post media.
func (c Client) Download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
