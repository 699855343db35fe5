package ytdlp

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

type DependencyReport struct {
	YtDlpPath    string `json:"ytdlp_path,omitempty"`
	YtDlpVersion string `json:"ytdlp_version,omitempty"`
	FFmpegPath   string `json:"ffmpeg_path,omitempty"`
	FFprobePath  string `json:"ffprobe_path,omitempty"`
}

// CheckDependencies verifies the external tools are installed and that
// yt-dlp is at least the configured minimum version.
func (c *Client) CheckDependencies(ctx context.Context) (*DependencyReport, error) {
	report := &DependencyReport{}
	var err error
	if report.YtDlpPath, err = exec.LookPath(c.opts.YtDlpPath); err != nil {
		return report, fmt.Errorf("missing dependency: yt-dlp is not installed or not on PATH")
	}
	if report.FFmpegPath, err = exec.LookPath(c.opts.FFmpegPath); err != nil {
		return report, fmt.Errorf("missing dependency: ffmpeg is not installed or not on PATH")
	}
	if report.FFprobePath, err = exec.LookPath(c.opts.FFprobePath); err != nil {
		return report, fmt.Errorf("missing dependency: ffprobe is not installed or not on PATH")
	}

	out, err := c.run(ctx, c.opts.YtDlpPath, "--version")
	if err != nil {
		return report, err
	}
	report.YtDlpVersion = strings.TrimSpace(string(out))
	if err := checkMinVersion(report.YtDlpVersion, c.opts.MinVersion); err != nil {
		return report, err
	}
	return report, nil
}

func checkMinVersion(have, want string) error {
	if strings.TrimSpace(want) == "" {
		return nil
	}
	haveV, err := parseVersion(have)
	if err != nil {
		return fmt.Errorf("unrecognized yt-dlp version %q: %w", have, err)
	}
	wantV, err := parseVersion(want)
	if err != nil {
		return fmt.Errorf("invalid minimum yt-dlp version %q: %w", want, err)
	}
	if haveV.LessThan(wantV) {
		return fmt.Errorf("yt-dlp %s is older than required %s, run yt-dlp -U", have, want)
	}
	return nil
}

// parseVersion reads yt-dlp's date versions (2024.01.05, nightly
// 2024.01.05.232920) as semver, dropping leading zeros and build suffixes.
func parseVersion(v string) (*semver.Version, error) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		parts[i] = strconv.Itoa(n)
	}
	return semver.NewVersion(strings.Join(parts, "."))
}
