package unwindhelper

// frameRetOffset is the byte offset from a saved frame pointer to the
// return address pushed above it, per the x86_64 standard prologue
// (push %rbp; mov %rsp,%rbp leaves the return address at fp+8).
const frameRetOffset = 8
