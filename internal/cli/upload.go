package cli

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pulp/pulp-ansible-sub001/internal/common/httpclient"
	"github.com/spf13/cobra"
)

var uploadFlags struct {
	basePath string
	wait     bool
	timeout  time.Duration
}

var uploadCmd = &cobra.Command{
	Use:   "upload <collection.tar.gz>",
	Short: "Upload a collection artifact to a distribution",
	Long: `Upload a collection artifact into the repository served by a distribution.
The sha256 of the file is sent along and verified by the server.

Example:
  pulp-ansible upload acme-tools-1.0.0.tar.gz --base-path dev --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, contentType, err := uploadBody(args[0])
		if err != nil {
			return err
		}
		rsp, _, err := client().DoRequest(httpclient.RequestOptions{
			Method:      http.MethodPost,
			Path:        GetConfig().GalaxyPath(uploadFlags.basePath) + "/v3/artifacts/collections/",
			Body:        body,
			ContentType: contentType,
		})
		if err != nil {
			return err
		}
		return followTask(rsp, uploadFlags.wait, uploadFlags.timeout, func(b []byte) {
			printTask(cmd.OutOrStdout(), b)
		})
	},
}

func uploadBody(filename string) ([]byte, string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, "", err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(part, h), f); err != nil {
		return nil, "", fmt.Errorf("unable to read %s: %w", filename, err)
	}
	if err := mw.WriteField("sha256", hex.EncodeToString(h.Sum(nil))); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	f := uploadCmd.Flags()
	f.StringVarP(&uploadFlags.basePath, "base-path", "b", "", "Base path of the distribution")
	f.BoolVarP(&uploadFlags.wait, "wait", "w", false, "Wait for the import task to finish")
	f.DurationVar(&uploadFlags.timeout, "timeout", 10*time.Minute, "How long to wait for the task")
	uploadCmd.MarkFlagRequired("base-path")
}
