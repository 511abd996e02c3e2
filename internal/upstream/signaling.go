package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// exchangeSDP POSTs the local SDP offer to the signaling URL returned with the
// ephemeral credential, bearer-authenticated with the client secret, and
// returns the remote SDP answer.
func exchangeSDP(ctx context.Context, cred Credential, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.SignalingURL, bytes.NewReader([]byte(offerSDP)))
	if err != nil {
		return "", fmt.Errorf("build SDP exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+cred.ClientSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("SDP exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read SDP exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("SDP exchange refused, status %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}
