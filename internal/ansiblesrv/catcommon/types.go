package catcommon

// Content types stored in the content header table.
const (
	ContentTypeCollectionVersion = "ansible.collection_version"
	ContentTypeRole              = "ansible.role"
	ContentTypeNamespace         = "ansible.namespace"
	ContentTypeSignature         = "ansible.collection_signature"
	ContentTypeDeprecation       = "ansible.collection_deprecation"
)

type RemoteType string

const (
	RemoteTypeCollection RemoteType = "collection"
	RemoteTypeRole       RemoteType = "role"
	RemoteTypeGit        RemoteType = "git"
)

type Policy string

const (
	PolicyImmediate Policy = "immediate"
	PolicyOnDemand  Policy = "on_demand"
	PolicyStreamed  Policy = "streamed"
)

func (p Policy) Valid() bool {
	switch p {
	case PolicyImmediate, PolicyOnDemand, PolicyStreamed:
		return true
	}
	return false
}

// Downloads reports whether content synced under p is fetched at sync time.
func (p Policy) Downloads() bool {
	return p == PolicyImmediate || p == ""
}

type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskPlanning   TaskState = "planning"
	TaskResolving  TaskState = "resolving"
	TaskFetching   TaskState = "fetching"
	TaskIngesting  TaskState = "ingesting"
	TaskCommitting TaskState = "committing"
	TaskDone       TaskState = "done"
	TaskFailed     TaskState = "failed"
	TaskCanceled   TaskState = "canceled"
)

// Final reports whether no further transitions are possible.
func (s TaskState) Final() bool {
	return s == TaskDone || s == TaskFailed || s == TaskCanceled
}

// contents[].content_type values built from a collection tarball.
const (
	CollectionContentRole     = "role"
	CollectionContentPlaybook = "playbook"
	CollectionContentModule   = "module"
)
