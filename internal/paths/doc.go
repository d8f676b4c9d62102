// Provides platform-appropriate paths for the graph cache and project root
// discovery.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. "foundry" is used as the subdirectory under each
// base path.
package paths
