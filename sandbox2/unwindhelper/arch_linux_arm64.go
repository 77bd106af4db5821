package unwindhelper

// frameRetOffset is the byte offset from a saved frame pointer to the
// saved link register, per AAPCS64's standard frame layout (x29 points at
// a {saved-fp, saved-lr} pair, lr at fp+8).
const frameRetOffset = 8
