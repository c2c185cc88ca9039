// Package process provides subprocess lifecycle management for the decoder
// and encoder processes.
//
// Process wraps os/exec for single subprocess supervision:
//   - Non-blocking Start; spawn failures are returned, never panicked
//   - Optional stdin pipe (raw frames into an encoder)
//   - Optional captured stdout (raw frames out of a decoder)
//   - Output line streaming with pluggable log parsing and handlers
//   - Idempotent Terminate: close stdin, SIGINT to the process group,
//     SIGKILL after the graceful timeout, bounded wait after the kill
//
// Example:
//
//	argv, _ := process.Command(cfg.FFmpegBinary, ffmpeg.BuildDecodeArgs(path, opts))
//	p := process.New("decoder", argv, logger)
//	p.CaptureStdout()
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	defer p.Terminate()
//	io.ReadFull(p.Stdout(), buf)
package process
