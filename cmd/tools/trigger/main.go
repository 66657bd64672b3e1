package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8081", "API base URL")
	flag.Parse()

	adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if adminSecret == "" {
		fmt.Println("Missing ADMIN_SECRET environment variable")
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Second}

	token, err := fetchToken(client, *baseURL, adminSecret)
	if err != nil {
		fmt.Printf("Error obtaining token: %v\n", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost, *baseURL+"/api/v1/ingest", nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n%s\n", resp.Status, body)
	if resp.StatusCode != http.StatusAccepted {
		os.Exit(1)
	}
}

func fetchToken(client *http.Client, baseURL, secret string) (string, error) {
	payload, err := json.Marshal(map[string]string{"secret": secret})
	if err != nil {
		return "", err
	}
	resp, err := client.Post(baseURL+"/api/v1/auth/token", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
