package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// Error codes.
const (
	CodeDuplicateTask     = "E201"
	CodeUnknownDependency = "E202"
	CodeCyclicDependency  = "E203"
	CodeUnknownTask       = "E204"
	CodeTaskExecution     = "E205"
	CodeProcessFailed     = "E206"
	CodeSassCompile       = "E207"
	CodeMissingFile       = "E208"
	CodeMinify            = "E209"
	CodeConfigNotFound    = "E210"
	CodeConfigInvalid     = "E211"
	CodeWatch             = "E212"
	CodePublish           = "E213"
	CodeSassBinary        = "E214"
)

// Sentinels for use with errors.Is.
var (
	ErrDuplicateTask     = &Error{Code: CodeDuplicateTask}
	ErrUnknownDependency = &Error{Code: CodeUnknownDependency}
	ErrCyclicDependency  = &Error{Code: CodeCyclicDependency}
	ErrUnknownTask       = &Error{Code: CodeUnknownTask}
	ErrTaskExecution     = &Error{Code: CodeTaskExecution}
	ErrProcessFailed     = &Error{Code: CodeProcessFailed}
	ErrSassCompile       = &Error{Code: CodeSassCompile}
	ErrMissingFile       = &Error{Code: CodeMissingFile}
	ErrMinify            = &Error{Code: CodeMinify}
	ErrConfigNotFound    = &Error{Code: CodeConfigNotFound}
	ErrConfigInvalid     = &Error{Code: CodeConfigInvalid}
	ErrWatch             = &Error{Code: CodeWatch}
	ErrPublish           = &Error{Code: CodePublish}
	ErrSassBinary        = &Error{Code: CodeSassBinary}
)

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Task Registry Errors (E201-E205)
	// ============================================

	CodeDuplicateTask: {
		Category:   CategoryTask,
		Message:    "Duplicate task",
		Suggestion: "Task names must be unique; rename one of the tasks in assetrun.json",
	},
	CodeUnknownDependency: {
		Category:   CategoryTask,
		Message:    "Unknown dependency",
		Suggestion: "Register the dependency before the task that needs it",
	},
	CodeCyclicDependency: {
		Category:   CategoryTask,
		Message:    "Cyclic dependency",
		Suggestion: "Remove one of the edges of the cycle from the task's deps",
	},
	CodeUnknownTask: {
		Category:   CategoryTask,
		Message:    "Unknown task",
		Suggestion: "Run 'assetrun list' to see the available tasks",
	},
	CodeTaskExecution: {
		Category: CategoryTask,
		Message:  "Task failed",
	},

	// ============================================
	// Pipeline Errors (E206-E209)
	// ============================================

	CodeProcessFailed: {
		Category: CategoryProcess,
		Message:  "Command failed",
	},
	CodeSassCompile: {
		Category: CategoryCompile,
		Message:  "Sass compilation failed",
	},
	CodeMissingFile: {
		Category:   CategoryBundle,
		Message:    "Missing file",
		Suggestion: "Check the js.vendor list in assetrun.json",
	},
	CodeMinify: {
		Category: CategoryBundle,
		Message:  "Minification failed",
	},

	// ============================================
	// Configuration & Infrastructure (E210-E214)
	// ============================================

	CodeConfigNotFound: {
		Category:   CategoryConfig,
		Message:    "Configuration not found",
		Suggestion: "Run 'assetrun init' to create assetrun.json",
	},
	CodeConfigInvalid: {
		Category:   CategoryConfig,
		Message:    "Invalid configuration",
		Suggestion: "Check that assetrun.json is valid JSON",
	},
	CodeWatch: {
		Category: CategoryWatch,
		Message:  "File watcher failed",
	},
	CodePublish: {
		Category: CategoryPublish,
		Message:  "Publish failed",
	},
	CodeSassBinary: {
		Category:   CategoryCompile,
		Message:    "Sass compiler unavailable",
		Suggestion: "Install dart-sass or set sass.binary in assetrun.json",
	},
}
