/*
Package locks serializes in-process access to runs and items.

Two goroutines resuming the same item, or restarting the same run, would
otherwise race on the stored record. The Manager hands out one mutex per key
and garbage collects it once nobody holds or waits for it.
*/
package locks
