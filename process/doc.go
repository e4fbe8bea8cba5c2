/*
Package process runs a single external executable and streams its standard output and standard error back line by line while it runs.

A Process wraps one set of Options and runs exactly once. While running, the child is serviced by three goroutines owned by the run: a stdin writer, a stdout reader, and a stderr reader. Readers never call back into user code. They enqueue events under the process lock and wake the goroutine that called Run, which drains the queue and dispatches every event to the registered handlers. So handlers:

 1. are never invoked concurrently with each other,
 2. always run on the goroutine that called Run,
 3. see events in enqueue order.

Lines from the same stream are delivered in the order they were written. There is no ordering guarantee between stdout and stderr: the combined output in a Result is the order in which the two readers happened to enqueue their lines, which is not necessarily the order in which the child wrote them.

Timeout and cancellation both kill the child. Output still buffered in the pipes when that happens may be lost.

Arguments are kept as a single command line string built from tokens, using the quoting grammar of the Windows C runtime (see QuoteArgument and SplitArguments). On Windows the string is handed to the OS unchanged, elsewhere it is split back into argv with the same grammar.
*/
package process
