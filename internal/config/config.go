// Package config holds the parsed command-line/JSON option surface
// (spec.md §6's settings table) that cmd/streamdeskd wires into
// session.Config and the per-pipeline types.CaptureSettings/AudioSettings.
package config

import "strings"

// FileTransfer enumerates the upload/download endpoint toggles (§6
// "file_transfers": list subset of {upload, download}).
type FileTransfer string

const (
	FileTransferUpload   FileTransfer = "upload"
	FileTransferDownload FileTransfer = "download"
)

// Options is the fully-parsed server configuration, independent of how
// it was sourced (flags here; a JSON settings-schema loader is an
// explicit external collaborator per §1/§6).
type Options struct {
	Addr        string
	Display     string
	Token       string
	UploadRoot  string
	Stats       bool

	AudioDeviceName string

	Encoder              string // "jpeg" | "x264enc" | "x264enc-striped"
	Framerate            int
	VideoBitrateKbps     int
	H264CRF              int
	JPEGQuality          int
	PaintOverJPEGQuality int
	H264PaintOverCRF     int
	H264PaintOverBurst   int

	IsManualResolutionMode bool
	ManualWidth            int
	ManualHeight           int
	ScalingDPI             int

	WatermarkPath     string
	WatermarkLocation int

	DRINode string // e.g. "/dev/dri/renderD128"

	FileTransfers []FileTransfer
}

// VAAPIRenderNodeIndex parses DRINode into the numeric VA-API render-node
// index spec.md §6 describes: "/dev/dri/renderD128" -> 0 (128-128), or -1
// if DRINode is empty or doesn't parse.
func (o Options) VAAPIRenderNodeIndex() int {
	const prefix = "/dev/dri/renderD"
	if !strings.HasPrefix(o.DRINode, prefix) {
		return -1
	}
	n, ok := atoiSafe(o.DRINode[len(prefix):])
	if !ok {
		return -1
	}
	return n - 128
}

func atoiSafe(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// AllowsUpload reports whether the "upload" file-transfer endpoint is
// enabled.
func (o Options) AllowsUpload() bool {
	return o.hasTransfer(FileTransferUpload)
}

// AllowsDownload reports whether the "download" file-transfer endpoint is
// enabled.
func (o Options) AllowsDownload() bool {
	return o.hasTransfer(FileTransferDownload)
}

func (o Options) hasTransfer(t FileTransfer) bool {
	for _, f := range o.FileTransfers {
		if f == t {
			return true
		}
	}
	return false
}

// ParseFileTransfers splits a comma-separated flag value ("upload,download")
// into the FileTransfer list, ignoring unrecognized entries.
func ParseFileTransfers(raw string) []FileTransfer {
	var out []FileTransfer
	for _, part := range strings.Split(raw, ",") {
		switch strings.TrimSpace(part) {
		case string(FileTransferUpload):
			out = append(out, FileTransferUpload)
		case string(FileTransferDownload):
			out = append(out, FileTransferDownload)
		}
	}
	return out
}
