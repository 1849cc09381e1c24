package apis

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catalog"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/collectionimport"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/galaxyclient"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/tasks"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

const maxUploadMemory = 32 << 20

// splitFilename parses <namespace>-<name>-<version>.tar.gz. Namespaces and
// names cannot contain a dash, versions can.
func splitFilename(filename string) (namespace, name, version string, ok bool) {
	base, found := strings.CutSuffix(filename, ".tar.gz")
	if !found {
		return "", "", "", false
	}
	parts := strings.SplitN(base, "-", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// downloadArtifact streams the artifact of a collection version in the
// served repository version. Content synced with a deferred policy is
// fetched from its remote; on_demand content is stored on the way.
func (a *api) downloadArtifact(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := targetFromContext(ctx)
	filename := chi.URLParam(r, "filename")
	namespace, name, version, ok := splitFilename(filename)
	if !ok {
		return nil, httpx.ErrNotFound()
	}
	cv, err := versionIn(r, st, namespace, name, version)
	if err != nil {
		return nil, err
	}

	body, size, err := a.openArtifact(ctx, cv)
	if err != nil {
		return nil, err
	}
	if aerr := db.DB(ctx).IncrementDownloadCount(ctx, cv.Namespace, cv.Name); aerr != nil {
		log.Ctx(ctx).Error().Err(aerr).Str("collection", cv.FullName()).Msg("unable to count download")
	}
	return &httpx.Response{
		StatusCode:    http.StatusOK,
		Stream:        body,
		ContentLength: size,
		ContentType:   "application/gzip",
		Filename:      filename,
	}, nil
}

func (a *api) openArtifact(ctx context.Context, cv *models.CollectionVersion) (io.ReadCloser, int64, error) {
	d := db.DB(ctx)
	if ok, err := a.Store.Exists(ctx, cv.Sha256); err != nil {
		return nil, 0, err
	} else if ok {
		var size int64
		if art, aerr := d.GetArtifact(ctx, cv.Sha256); aerr == nil {
			size = art.Size
		}
		rc, err := a.Store.Open(ctx, cv.Sha256)
		return rc, size, err
	}

	ra, aerr := d.GetRemoteArtifact(ctx, cv.ContentID)
	if aerr != nil {
		log.Ctx(ctx).Error().Str("collection", cv.FullName()).Str("sha256", cv.Sha256).Msg("artifact is neither stored nor remote")
		return nil, 0, artifactstore.ErrArtifactNotFound
	}
	remote, aerr := d.GetRemote(ctx, ra.RemoteID)
	if aerr != nil {
		return nil, 0, aerr
	}
	client, err := galaxyclient.New(remote, a.Client)
	if err != nil {
		return nil, 0, err
	}
	body, size, err := client.Download(ctx, ra.URL)
	if err != nil {
		return nil, 0, err
	}
	if remote.Policy != catcommon.PolicyOnDemand {
		return artifactstore.Verify(body, cv.Sha256), size, nil
	}

	defer body.Close()
	res, err := a.Store.Put(ctx, body, artifactstore.WithExpectedSha256(cv.Sha256))
	if err != nil {
		return nil, 0, err
	}
	art := &models.Artifact{Sha256: res.Sha256, Size: res.Size, StoragePath: artifactstore.RelativePath(res.Sha256)}
	if aerr := d.CreateArtifact(ctx, art); aerr != nil {
		return nil, 0, aerr
	}
	log.Ctx(ctx).Info().Str("collection", cv.FullName()).Int64("size", res.Size).Msg("stored on demand artifact")
	rc, err := a.Store.Open(ctx, res.Sha256)
	return rc, res.Size, err
}

// uploadArtifact stores the uploaded tarball and imports it into the
// distribution's repository in a task.
func (a *api) uploadArtifact(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := targetFromContext(ctx)
	if st.Distribution.VersionNumber.Valid {
		return nil, httpx.ErrInvalidRequest("distribution serves a pinned repository version")
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, httpx.ErrUnableToParseReqData()
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, httpx.ErrInvalidRequest("file is required")
	}
	defer file.Close()

	var opts []artifactstore.PutOption
	if sha := r.FormValue("sha256"); sha != "" {
		opts = append(opts, artifactstore.WithExpectedSha256(strings.ToLower(sha)))
	}
	res, err := a.Store.Put(ctx, file, opts...)
	if err != nil {
		return nil, err
	}

	repoID := st.Repository.RepositoryID
	t := &models.Task{Name: "collection_upload"}
	t.RepositoryID = uuid.NullUUID{UUID: repoID, Valid: true}
	task, aerr := a.Tasks.Submit(ctx, t, a.importJob(repoID, res))
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusAccepted,
		Response:   &taskRefRsp{Task: a.taskHref(st.domain, task.TaskID)},
	}, nil
}

func (a *api) importJob(repoID uuid.UUID, res *artifactstore.PutResult) tasks.Job {
	return func(ctx context.Context, h *tasks.Handle) error {
		d := db.DB(ctx)
		if err := h.Phase(ctx, catcommon.TaskIngesting); err != nil {
			return err
		}
		art := &models.Artifact{Sha256: res.Sha256, Size: res.Size, StoragePath: artifactstore.RelativePath(res.Sha256)}
		if aerr := d.CreateArtifact(ctx, art); aerr != nil {
			return aerr
		}
		rc, err := a.Store.Open(ctx, res.Sha256)
		if err != nil {
			return err
		}
		imp, aerr := collectionimport.Read(rc)
		rc.Close()
		if aerr != nil {
			return aerr
		}
		cv, aerr := d.UpsertCollectionVersion(ctx, imp.CollectionVersion(res.Sha256))
		if aerr != nil {
			return aerr
		}
		h.Progress(ctx, models.ProgressReport{
			Message: "Importing collection",
			Code:    "import.collection",
			State:   "completed",
			Done:    1,
			Total:   1,
		})

		if err := h.Phase(ctx, catcommon.TaskCommitting); err != nil {
			return err
		}
		v, err := catalog.New(d).AddContent(ctx, repoID, cv.ContentID)
		if err != nil {
			return err
		}
		h.SetCreatedVersion(v.Number)
		log.Ctx(ctx).Info().Str("collection", cv.FullName()).Str("version", cv.Version).Int64("repository_version", v.Number).Msg("collection imported")
		return nil
	}
}
