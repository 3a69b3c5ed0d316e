package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewinddvr/rewind/internal/config"
	apperrors "github.com/rewinddvr/rewind/internal/errors"
)

var daemonAddr string

func init() {
	for _, c := range []*cobra.Command{statusCmd, enableCmd, disableCmd, modeCmd,
		trackCmd, startCmd, clipCmd, clipsCmd} {
		c.Flags().StringVar(&daemonAddr, "addr", "", "daemon address (host:port)")
		rootCmd.AddCommand(c)
	}
	clipCmd.Flags().String("name", "", "clip file name")
	clipCmd.Flags().Bool("share", false, "upload the clip and print the share link")
}

// apiClient talks to a running daemon.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() *apiClient {
	addr := daemonAddr
	if addr == "" {
		addr = config.NewStore(cfgPath).Load().Server.Addr
	}
	return &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "daemon unreachable (is rewindd serve running?)")
	}
	return decodeResponse(resp, out)
}

func (c *apiClient) post(path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := c.http.Post(c.base+path, "application/json", &buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "daemon unreachable (is rewindd serve running?)")
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recording state and buffer fill",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st struct {
			State              string `json:"state"`
			Enabled            bool   `json:"enabled"`
			Mode               string `json:"mode"`
			TrackedApplication string `json:"tracked_application"`
			FocusedApplication string `json:"focused_application"`
			Halted             bool   `json:"halted"`
			BufferSegments     int    `json:"buffer_segments"`
			BufferSeconds      int    `json:"buffer_seconds"`
		}
		if err := newAPIClient().get("/api/status", &st); err != nil {
			return err
		}
		fmt.Printf("state:    %s\n", st.State)
		fmt.Printf("enabled:  %v\n", st.Enabled)
		fmt.Printf("mode:     %s\n", st.Mode)
		if st.Mode == config.ModeTrackedApplication {
			fmt.Printf("tracking: %s (focused: %s)\n", st.TrackedApplication, st.FocusedApplication)
		}
		if st.Halted {
			fmt.Println("halted:   recording halted after repeated failures")
		}
		fmt.Printf("buffer:   %d segments, %ds\n", st.BufferSegments, st.BufferSeconds)
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn background recording on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn background recording off",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(false)
	},
}

func setEnabled(on bool) error {
	if err := newAPIClient().post("/api/tracking/enable", map[string]bool{"enabled": on}, nil); err != nil {
		return err
	}
	if on {
		fmt.Println("recording enabled")
	} else {
		fmt.Println("recording disabled")
	}
	return nil
}

var modeCmd = &cobra.Command{
	Use:   "mode {display|application}",
	Short: "Switch between whole-display and tracked-application recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient().post("/api/tracking/mode", map[string]string{"mode": args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("mode set to %s\n", args[0])
		return nil
	},
}

var trackCmd = &cobra.Command{
	Use:   "track <application>",
	Short: "Track an application and record while it holds focus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient()
		if err := c.post("/api/tracking/app", map[string]string{"application": args[0]}, nil); err != nil {
			return err
		}
		if err := c.post("/api/tracking/mode", map[string]string{"mode": config.ModeTrackedApplication}, nil); err != nil {
			return err
		}
		fmt.Printf("tracking %s\n", args[0])
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start capture immediately (display mode)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient().post("/api/recording/start", nil, nil); err != nil {
			return err
		}
		fmt.Println("recording requested")
		return nil
	},
}

var clipCmd = &cobra.Command{
	Use:   "clip <seconds>",
	Short: "Save the last N seconds as a clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.Atoi(args[0])
		if err != nil || seconds <= 0 {
			return fmt.Errorf("seconds must be a positive integer, got %q", args[0])
		}
		name, _ := cmd.Flags().GetString("name")
		doShare, _ := cmd.Flags().GetBool("share")

		var resp struct {
			Clip struct {
				ID       string `json:"id"`
				Path     string `json:"path"`
				ShareURL string `json:"share_url"`
			} `json:"clip"`
			DuplicateOf string `json:"duplicate_of"`
		}
		err = newAPIClient().post("/api/clip", map[string]any{
			"duration_seconds": seconds,
			"name":             name,
			"share":            doShare,
		}, &resp)
		if err != nil {
			return err
		}

		fmt.Printf("saved %s (%s)\n", resp.Clip.Path, resp.Clip.ID)
		if resp.DuplicateOf != "" {
			fmt.Printf("note: looks like a duplicate of clip %s\n", resp.DuplicateOf)
		}
		if doShare {
			if resp.Clip.ShareURL != "" {
				fmt.Printf("share link: %s\n", resp.Clip.ShareURL)
			} else {
				fmt.Println("upload failed; clip saved locally")
			}
		}
		return nil
	},
}

var clipsCmd = &cobra.Command{
	Use:   "clips",
	Short: "List saved clips",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Clips []struct {
				ID        string    `json:"id"`
				Name      string    `json:"name"`
				App       string    `json:"app"`
				Path      string    `json:"path"`
				ShareURL  string    `json:"share_url"`
				CreatedAt time.Time `json:"created_at"`
			} `json:"clips"`
		}
		if err := newAPIClient().get("/api/clips", &resp); err != nil {
			return err
		}
		if len(resp.Clips) == 0 {
			fmt.Println("no saved clips")
			return nil
		}
		for _, c := range resp.Clips {
			line := fmt.Sprintf("%s  %s  %s", c.ID, c.CreatedAt.Local().Format("2006-01-02 15:04"), c.Path)
			if c.ShareURL != "" {
				line += "  " + c.ShareURL
			}
			fmt.Println(line)
		}
		return nil
	},
}
