package cmd

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	invokeMethod string
	invokeData   string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke [path]",
	Short: "Call an API route with a SigV4-signed request",
	Long: `Call a route of the molt API, signing the request with your AWS
credentials. The request body comes from --data or from stdin when
piped.

Examples:
  moltctl invoke /health
  moltctl invoke -X POST -d '{"jobs":[{"command":"molt transform"}]}' /jobs/batch
  cat batch.json | moltctl invoke -X POST /jobs/batch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := viper.GetString("endpoint")
		if endpoint == "" {
			return fmt.Errorf("endpoint is required (--endpoint or MOLT_ENDPOINT)")
		}

		full := strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(args[0], "/")
		u, err := url.Parse(full)
		if err != nil {
			return fmt.Errorf("invalid endpoint URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid endpoint URL scheme %q", u.Scheme)
		}

		payload := []byte(invokeData)
		if invokeData == "" {
			if stat, statErr := os.Stdin.Stat(); statErr == nil && stat.Mode()&os.ModeCharDevice == 0 {
				payload, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}
		}

		ctx := cmd.Context()
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		if awsCfg.Region == "" {
			return fmt.Errorf("region is required (--region, MOLT_REGION, or AWS config)")
		}
		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve AWS credentials: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(invokeMethod), u.String(), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if len(payload) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		sum := sha256.Sum256(payload)
		signer := v4.NewSigner()
		if err := signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "execute-api", awsCfg.Region, time.Now()); err != nil {
			return fmt.Errorf("failed to sign request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(body))
		}

		if resp.StatusCode >= 400 {
			fmt.Fprintf(os.Stderr, "HTTP %d\n", resp.StatusCode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(invokeCmd)
	invokeCmd.Flags().StringVarP(&invokeMethod, "method", "X", "GET", "HTTP method")
	invokeCmd.Flags().StringVarP(&invokeData, "data", "d", "", "Request body (JSON)")
}
