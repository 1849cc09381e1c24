// Package remotes validates remote definitions before they are stored.
package remotes

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/requirements"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

const nameRegex = `^[A-Za-z0-9_.-]+$`

var nameRe = regexp.MustCompile(nameRegex)

// hosts that refuse unrestricted catalog walks
var requirementsOnlyHosts = []string{"galaxy.ansible.com", "cloud.redhat.com", "console.redhat.com"}

var v = validator.New()

func init() {
	v.RegisterValidation("remoteName", func(fl validator.FieldLevel) bool {
		return nameRe.MatchString(fl.Field().String())
	})
	v.RegisterValidation("remoteType", func(fl validator.FieldLevel) bool {
		switch catcommon.RemoteType(fl.Field().String()) {
		case catcommon.RemoteTypeCollection, catcommon.RemoteTypeRole, catcommon.RemoteTypeGit:
			return true
		}
		return false
	})
	v.RegisterValidation("policy", func(fl validator.FieldLevel) bool {
		p := catcommon.Policy(fl.Field().String())
		return p == "" || p.Valid()
	})
}

type remoteSchema struct {
	Name                string `validate:"required,max=128,remoteName"`
	Type                string `validate:"remoteType"`
	URL                 string `validate:"required"`
	Policy              string `validate:"policy"`
	DownloadConcurrency int    `validate:"min=0,max=100"`
}

// Validate checks r and fills in defaults. Every failure is InvalidRemote.
func Validate(r *models.Remote) apperrors.Error {
	s := remoteSchema{
		Name:                r.Name,
		Type:                string(r.Type),
		URL:                 r.URL,
		Policy:              string(r.Policy),
		DownloadConcurrency: r.DownloadConcurrency,
	}
	if err := v.Struct(s); err != nil {
		if ves, ok := err.(validator.ValidationErrors); ok && len(ves) > 0 {
			fe := ves[0]
			return ansibleerrors.InvalidRemote(strings.ToLower(fe.Field()) + " failed " + fe.Tag() + " validation")
		}
		return ansibleerrors.InvalidRemote(err.Error())
	}
	if r.Policy == "" {
		r.Policy = catcommon.PolicyImmediate
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return ansibleerrors.InvalidRemote("url is not a valid URL: " + err.Error())
	}
	switch r.Type {
	case catcommon.RemoteTypeGit:
		if u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
			return ansibleerrors.InvalidRemote("url must include a scheme and host")
		}
		if r.Policy != catcommon.PolicyImmediate {
			return ansibleerrors.InvalidRemote("git remotes only support the immediate policy")
		}
	default:
		if u.Scheme != "http" && u.Scheme != "https" {
			return ansibleerrors.InvalidRemote("url must use http or https")
		}
		if u.Host == "" {
			return ansibleerrors.InvalidRemote("url must include a host")
		}
		if r.Type == catcommon.RemoteTypeCollection && !strings.HasSuffix(r.URL, "/") {
			return ansibleerrors.InvalidRemote("url must end with a trailing slash")
		}
	}

	if r.AuthURL != "" {
		if r.Token == "" {
			return ansibleerrors.InvalidRemote("auth_url requires a token")
		}
		if au, err := url.Parse(r.AuthURL); err != nil || au.Scheme == "" || au.Host == "" {
			return ansibleerrors.InvalidRemote("auth_url must be an absolute URL")
		}
	}
	if r.ProxyURL != "" {
		if pu, err := url.Parse(r.ProxyURL); err != nil || pu.Scheme == "" || pu.Host == "" {
			return ansibleerrors.InvalidRemote("proxy_url must be an absolute URL")
		}
	} else if r.ProxyUsername != "" || r.ProxyPassword != "" {
		return ansibleerrors.InvalidRemote("proxy credentials require a proxy_url")
	}
	if (r.ProxyUsername == "") != (r.ProxyPassword == "") {
		return ansibleerrors.InvalidRemote("proxy_username and proxy_password must be set together")
	}

	if r.RequirementsFile != "" {
		if r.Type != catcommon.RemoteTypeCollection {
			return ansibleerrors.InvalidRemote("requirements_file is only valid on collection remotes")
		}
		if _, err := requirements.Parse(r.RequirementsFile); err != nil {
			return ansibleerrors.InvalidRemote(err.Error())
		}
	} else if r.Type == catcommon.RemoteTypeCollection {
		for _, h := range requirementsOnlyHosts {
			if u.Hostname() == h {
				return ansibleerrors.InvalidRemote("syncing from " + h + " requires a requirements_file")
			}
		}
	}
	return nil
}

// Create validates r and stores it in the domain in ctx.
func Create(ctx context.Context, d db.RemoteManager, r *models.Remote) apperrors.Error {
	if err := Validate(r); err != nil {
		log.Ctx(ctx).Info().Str("name", r.Name).Str("url", r.URL).Msg(err.Error())
		return err
	}
	return d.CreateRemote(ctx, r)
}

// Update validates r and replaces the stored remote.
func Update(ctx context.Context, d db.RemoteManager, r *models.Remote) apperrors.Error {
	if err := Validate(r); err != nil {
		return err
	}
	return d.UpdateRemote(ctx, r)
}
