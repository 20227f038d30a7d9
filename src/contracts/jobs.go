package contracts

// Jenkins item classes that contain other jobs.
const (
	ClassFolder      = "com.cloudbees.hudson.plugins.folder.Folder"
	ClassMultiBranch = "org.jenkinsci.plugins.workflow.multibranch.WorkflowMultiBranchProject"
)

// JobDescriptor is one entry of a job listing.
type JobDescriptor struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Class    string `json:"class"`
	URL      string `json:"url"`
}

// IsFolder reports whether the item is a plain folder.
func (d JobDescriptor) IsFolder() bool { return d.Class == ClassFolder }

// IsMultiBranch reports whether the item is a multi-branch project.
func (d JobDescriptor) IsMultiBranch() bool { return d.Class == ClassMultiBranch }

// JobInfo is the summary used by monitors to detect new builds.
type JobInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	// LastBuildNumber is 0 when the job has never run.
	LastBuildNumber int `json:"last_build_number"`
}
