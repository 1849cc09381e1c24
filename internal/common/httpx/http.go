package httpx

import (
	"context"
	"io"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const MaxRequestBody = 1 << 20

func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("Empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBody)).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response is what a RequestHandler returns. When Stream is set the body is
// copied from it verbatim and Response is ignored.
type Response struct {
	StatusCode    int
	Location      string
	Response      any
	ContentType   string
	Stream        io.ReadCloser
	ContentLength int64
	Filename      string
}

type RequestHandler func(r *http.Request) (*Response, error)

func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			SendErrorRsp(r.Context(), w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.Stream != nil {
			sendStream(r.Context(), w, rsp)
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		if rsp.ContentType == "application/json" {
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
		} else {
			ErrApplicationError("unsupported response type").Send(w)
		}
	})
}

// SendErrorRsp converts err into the error envelope.
func SendErrorRsp(ctx context.Context, w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *Error:
		e.Send(w)
	case apperrors.Error:
		SendError(w, e)
	default:
		log.Ctx(ctx).Error().Err(err).Msg("unhandled error")
		ErrApplicationError(err.Error()).Send(w)
	}
}

// SendJsonRsp writes v as JSON with the given status.
func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, v any, location ...string) {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	var body []byte
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("unable to marshal response")
			ErrApplicationError().Send(w)
			return
		}
		body = b
	}
	if len(location) > 0 && location[0] != "" {
		w.Header().Set("Location", location[0])
	}
	if body != nil {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(statusCode)
	if body != nil {
		if _, err := w.Write(body); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("unable to write response")
		}
	}
}

func sendStream(ctx context.Context, w http.ResponseWriter, rsp *Response) {
	defer rsp.Stream.Close()
	ct := rsp.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if rsp.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rsp.ContentLength, 10))
	}
	if rsp.Filename != "" {
		w.Header().Set("Content-Disposition", "attachment; filename=\""+rsp.Filename+"\"")
	}
	status := rsp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := io.Copy(w, rsp.Stream); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("streaming response aborted")
		// the status is already sent; the client sees a broken transfer
		panic(http.ErrAbortHandler)
	}
}

type ResponseHandlerParam struct {
	Method  string
	Path    string
	Handler RequestHandler
}
