// Parses flags and configures logging for the foundry CLI.
//
// foundry accepts the following global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-C, --root      Project root directory (default: search upward for recipes/).
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity
// before the selected subcommand runs.
package cli
