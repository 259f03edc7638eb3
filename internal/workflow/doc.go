// Package workflow defines workflows and tasks, builds their dependency
// graph, and executes individual tasks.
//
// A Workflow is built from a Config with New. Construction validates the
// configuration, checks every task type against a handler.Registry, and
// computes the execution order with Kahn's algorithm. Any problem found here
// is a configuration error (types.IsConfigError) and no execution state is
// created.
//
// # Configuration
//
//	name: nightly-maintenance
//	description: Rotate logs and check disk
//	trigger_type: schedule
//	schedule: "0 3 * * *"
//	variables:
//	  log_dir: /var/log/app
//	tasks:
//	  - id: rotate
//	    name: Rotate logs
//	    type: shell_command
//	    params:
//	      command: logrotate -f /etc/logrotate.d/app
//	    timeout: 120
//	    max_retries: 2
//
//	  - id: disk
//	    name: Check disk
//	    type: health_check
//	    dependencies: [rotate]
//	    params:
//	      check_type: disk
//	      path: ${log_dir}
//	      threshold: 85
//
// # Task execution
//
// TaskExecutor runs one task at a time: it substitutes variables into the
// task parameters, invokes the handler under the task timeout and retries
// handler errors with exponential backoff. Timeouts and access-guard
// violations are terminal and never retried.
//
// Dependency gating across tasks is the caller's job; see the engine package.
package workflow
