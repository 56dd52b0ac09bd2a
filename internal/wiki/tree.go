package wiki

import (
	"fmt"
	"sort"
	"strings"
)

type treeNode struct {
	name     string
	dirs     map[string]*treeNode
	files    []string
	numFiles int // files in this subtree
}

func newTreeNode(name string) *treeNode {
	return &treeNode{name: name, dirs: make(map[string]*treeNode)}
}

// FileTree renders repository paths as an indented tree, directories first.
// Directories deeper than maxDepth are collapsed, and a directory with more than
// maxFilesPerDir entries lists its subdirectories and summarizes its files.
func FileTree(paths []string, maxDepth, maxFilesPerDir int) string {
	if maxDepth <= 0 {
		maxDepth = 4
	}
	if maxFilesPerDir <= 0 {
		maxFilesPerDir = 15
	}

	root := newTreeNode("")
	for _, p := range paths {
		parts := strings.Split(p, "/")
		node := root
		node.numFiles++
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.dirs[dir]
			if !ok {
				child = newTreeNode(dir)
				node.dirs[dir] = child
			}
			child.numFiles++
			node = child
		}
		node.files = append(node.files, parts[len(parts)-1])
	}

	var sb strings.Builder
	sb.WriteString("./\n")
	writeTree(&sb, root, "", 0, maxDepth, maxFilesPerDir)
	return sb.String()
}

func writeTree(sb *strings.Builder, node *treeNode, indent string, depth, maxDepth, maxFilesPerDir int) {
	dirNames := make([]string, 0, len(node.dirs))
	for name := range node.dirs {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	sort.Strings(node.files)

	for i, name := range dirNames {
		if i >= maxFilesPerDir {
			fmt.Fprintf(sb, "%s  - [%d more directories]\n", indent, len(dirNames)-i)
			break
		}
		child := node.dirs[name]
		if depth+1 >= maxDepth {
			fmt.Fprintf(sb, "%s  - %s/ [%d files]\n", indent, name, child.numFiles)
			continue
		}
		fmt.Fprintf(sb, "%s  - %s/\n", indent, name)
		writeTree(sb, child, indent+"    ", depth+1, maxDepth, maxFilesPerDir)
	}

	// If too many entries, show a count instead of files.
	if len(dirNames)+len(node.files) > maxFilesPerDir {
		if len(node.files) > 0 {
			fmt.Fprintf(sb, "%s  - [%d files]\n", indent, len(node.files))
		}
		return
	}
	for _, name := range node.files {
		fmt.Fprintf(sb, "%s  - %s\n", indent, name)
	}
}
