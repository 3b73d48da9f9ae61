// Package backends contains the synthesis engine implementations: edge
// (Microsoft Edge read-aloud over websocket), piper (local subprocess),
// xtts (local inference server over HTTP), openai (cloud API), and a
// deterministic mock for tests. Each satisfies tts.Backend; the manager
// never imports this package directly, wiring happens at startup.
package backends
