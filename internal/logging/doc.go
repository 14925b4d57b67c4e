// Package logging configures slog for amansearch and reads its logs back.
//
// Records are JSON lines in a size-rotated file, by default under
// ~/.amansearch/logs/. The MCP server speaks JSON-RPC on stdout, so it
// logs through SetupMCPMode to the file alone.
package logging
