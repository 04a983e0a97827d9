// Package config loads assetrun.json, the project configuration.
//
// The file lives at the project root; FindProjectRoot walks up from the
// working directory to find it. Every field has a default, so a project
// without the file still gets the sass, go:generate and build tasks.
//
// # Configuration File Structure
//
//	{
//	  "defaultTask": "build",
//	  "parallel": true,
//	  "sass": {
//	    "source": "assets/sass/**/*.scss",
//	    "dest": "static/css",
//	    "style": "compressed"
//	  },
//	  "js": {
//	    "vendor": ["node_modules/htmx.org/dist/htmx.js"],
//	    "local": "assets/js/**/*.js",
//	    "output": "static/js/app.js"
//	  },
//	  "go": {
//	    "dir": "frontend",
//	    "command": "go generate ./..."
//	  },
//	  "watch": {
//	    "debounce": "150ms"
//	  },
//	  "dev": {
//	    "enabled": true,
//	    "port": 3000
//	  },
//	  "tasks": [
//	    {"name": "lint", "command": "golangci-lint run", "deps": ["go:generate"]}
//	  ]
//	}
//
// # Environment
//
// A .env file next to assetrun.json is read with godotenv. Its entries are
// passed to task subprocesses and, like the process environment, may set
// ASSETRUN_DEFAULT_TASK, ASSETRUN_PARALLEL, ASSETRUN_LOG_LEVEL,
// ASSETRUN_SASS_BINARY and ASSETRUN_PUBLISH_BUCKET. The process environment
// wins over .env.
//
// # Usage
//
//	cfg, found, err := config.LoadFromWorkingDir()
//	if err != nil {
//	    return err
//	}
//	fmt.Println("CSS goes to", cfg.SassDestPath(), found)
package config
